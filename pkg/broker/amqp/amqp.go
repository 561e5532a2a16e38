package amqp

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/labbridge/lab-gateway/pkg/broker"
)

// State is the broker connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var _ broker.Broker = (*AMQPBroker)(nil)

// ErrClosed is returned when starting a broker that has been closed.
var ErrClosed = errors.New("broker is closed")

var (
	defaultHeartbeat = 10 * time.Second
	retryDelay       = 1000 * time.Millisecond
)

// AMQPBroker implements broker.Broker on top of one AMQP connection and one
// channel. Every exchange in the binding map gets its own anonymous
// exclusive auto-delete queue; all bindings are re-established together on
// every (re)connect. Any failure schedules a flat-delay reconnect.
type AMQPBroker struct {
	uri       *url.URL
	username  string
	password  string
	heartbeat time.Duration
	durable   bool
	logger    *zap.Logger

	// dial is swapped out in tests.
	dial func(addr string, cfg amqp.Config) (*amqp.Connection, error)

	retry *backoff.Backoff

	mu         sync.Mutex
	state      State
	conn       *amqp.Connection
	channel    *amqp.Channel
	bindings   map[string]broker.Handler
	retryTimer *time.Timer
	closed     bool
}

// NewBroker creates new amqp broker.
func NewBroker(opts ...Option) (*AMQPBroker, error) {
	b := &AMQPBroker{heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.uri == nil {
		return nil, errors.New("empty broker url")
	}
	if b.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		b.logger = l
	}
	b.dial = func(addr string, cfg amqp.Config) (*amqp.Connection, error) {
		return amqp.DialConfig(addr, cfg)
	}
	// Min == Max gives the flat reconnect delay.
	b.retry = &backoff.Backoff{Min: retryDelay, Max: retryDelay}
	return b, nil
}

func (b *AMQPBroker) addr() string {
	u := *b.uri
	username := b.username
	if name := u.User.Username(); name != "" {
		username = name
	}
	password := b.password
	if p, isSet := u.User.Password(); isSet {
		password = p
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

// ConnectAndSubscribe stores the exchange bindings and starts the
// connection. Bindings are re-applied automatically after every reconnect.
func (b *AMQPBroker) ConnectAndSubscribe(bindings map[string]broker.Handler) error {
	b.mu.Lock()
	b.bindings = bindings
	b.mu.Unlock()

	return b.Start()
}

// Start opens the connection, opens one channel and establishes every
// exchange binding. It is a no-op while another attempt is in flight. Any
// failure leaves the broker disconnected and schedules a retry.
func (b *AMQPBroker) Start() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.state == StateConnecting {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	conn, err := b.dial(b.addr(), amqp.Config{Heartbeat: b.heartbeat})
	if err != nil {
		b.logger.Error("failed to connect to broker", zap.String("host", b.uri.Host), zap.Error(err))
		b.scheduleRetry()
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		b.logger.Error("failed to open channel", zap.Error(err))
		_ = conn.Close()
		b.scheduleRetry()
		return err
	}

	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(connClose, chClose)

	b.resubscribe(ch)

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.state = StateConnected
	b.mu.Unlock()
	b.logger.Info("connected to broker", zap.String("host", b.uri.Host))

	return nil
}

// watch waits for a connection- or channel-level close. A close carrying an
// error triggers a reconnect; a clean close parks the broker.
func (b *AMQPBroker) watch(connClose, chClose chan *amqp.Error) {
	var amqpErr *amqp.Error
	select {
	case amqpErr = <-connClose:
	case amqpErr = <-chClose:
	}
	if amqpErr == nil {
		b.setState(StateClosed)
		return
	}

	b.logger.Warn("broker connection lost", zap.Error(amqpErr))
	b.setState(StateError)
	b.scheduleRetry()
}

// scheduleRetry arms the reconnect timer, replacing any pending one. It does
// nothing after Close so a deliberate shutdown cannot resurrect the
// connection.
func (b *AMQPBroker) scheduleRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.state = StateDisconnected
	if b.retryTimer != nil {
		b.retryTimer.Stop()
	}
	b.retryTimer = time.AfterFunc(b.retry.Duration(), func() {
		_ = b.Start()
	})
}

// resubscribe establishes every exchange binding on the given channel. A
// single binding failure is logged and skipped; channel-level errors surface
// through the close watcher instead.
func (b *AMQPBroker) resubscribe(ch *amqp.Channel) {
	b.mu.Lock()
	bindings := b.bindings
	b.mu.Unlock()

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := b.bind(ch, name, bindings[name]); err != nil {
			b.logger.Warn("failed to bind exchange", zap.String("exchange", name), zap.Error(err))
		}
	}
}

func (b *AMQPBroker) bind(ch *amqp.Channel, exchange string, h broker.Handler) error {
	if err := ch.ExchangeDeclare(exchange, "fanout", b.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	go b.consume(exchange, deliveries, h)
	return nil
}

func (b *AMQPBroker) consume(exchange string, deliveries <-chan amqp.Delivery, h broker.Handler) {
	for d := range deliveries {
		if err := h(broker.Event{Exchange: exchange, Payload: d.Body}); err != nil {
			b.logger.Error("failed to handle broker event", zap.String("exchange", exchange), zap.Error(err))
		}
	}
}

// Close cancels any pending reconnect and closes the underlying connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.state = StateClosed
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
	conn := b.conn
	b.conn = nil
	b.channel = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// State returns the current connection state.
func (b *AMQPBroker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *AMQPBroker) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

func (b *AMQPBroker) String() string {
	return fmt.Sprintf("Broker [%s] %s", b.uri.Host, b.State())
}
