// Package transport defines the watermill transports a bus child channel can
// run over. Each transport lives in its own sub-package and registers itself
// with the registry under the name used in "bus://<name>" child urls.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides, returning the first error.
func (t Transport) Close() error {
	var first error
	if t.Publisher != nil {
		first = t.Publisher.Close()
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the
// channel config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	// GetNATSStream names the JetStream stream, empty for the default.
	GetNATSStream() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string
}
