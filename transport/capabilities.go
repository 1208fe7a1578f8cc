package transport

// Capabilities describes what a bus transport guarantees to a child channel.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering means messages on one topic arrive in publish order.
	// Sequence numbers seen by scripts are only monotonic on such transports.
	SupportsOrdering bool

	// SupportsAck and SupportsNack report explicit (negative) acknowledgment.
	SupportsAck  bool
	SupportsNack bool

	// SupportsTracing indicates the transport carries metadata headers.
	SupportsTracing bool

	// MaxMessageSize is the largest payload in bytes, 0 when unlimited.
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true for at-least-once transports.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of n bytes can be published.
func (c Capabilities) Fits(n int) bool {
	return c.MaxMessageSize <= 0 || int64(n) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   1048576,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}
)

// GetCapabilities returns the capabilities registered for a transport in the
// default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
