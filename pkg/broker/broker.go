package broker

// Broker is the interface to consume async messaging from the backend broker.
type Broker interface {
	ConnectAndSubscribe(bindings map[string]Handler) error
	Close() error
	String() string
}

// Handler handles a message received from an exchange.
type Handler func(Event) error

// Event is the event passed to Handler.
type Event struct {
	Exchange string
	Payload  []byte
}
