package amqp

import (
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
)

type Option func(b *AMQPBroker) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(b *AMQPBroker) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		b.uri = uri
		return nil
	}
}

// WithCredentials returns an Option which set the broker credentials used
// when the url carries none.
func WithCredentials(username, password string) Option {
	return func(b *AMQPBroker) error {
		b.username = username
		b.password = password
		return nil
	}
}

// WithHeartbeat returns an Option which set the connection heartbeat
// interval.
func WithHeartbeat(d time.Duration) Option {
	return func(b *AMQPBroker) error {
		if d > 0 {
			b.heartbeat = d
		}
		return nil
	}
}

// WithDurableExchanges returns an Option which set the durability flag used
// when declaring exchanges.
func WithDurableExchanges(durable bool) Option {
	return func(b *AMQPBroker) error {
		b.durable = durable
		return nil
	}
}

// WithLogger returns an Option which set the logger for the broker.
func WithLogger(logger *zap.Logger) Option {
	return func(b *AMQPBroker) error {
		b.logger = logger
		return nil
	}
}
