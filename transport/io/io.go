// Package io provides a file backed transport for bus children. Messages are
// appended to a file as JSON lines; subscribers tail the file and deliver
// the records of their topic, which makes a recorded session replayable.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/luaflow/internal/runtime/jsoncodec"
	"github.com/drblury/luaflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "messages.log"

// PollInterval is how long a subscriber waits at end of file.
var PollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

func init() { Register() }

// Register registers the transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new file transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// record is one line of the file. Payload is base64 in JSON.
type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends messages to the file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends one line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := jsoncodec.NewEncoder(w)
	for _, msg := range messages {
		err := enc.Encode(record{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the file.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

// Subscribe delivers every record of topic from the start of the file and
// keeps following appended records until ctx is done. Each message must be
// acked or nacked before the next one is read.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)

	go func() {
		defer close(out)
		defer f.Close()

		reader := bufio.NewReader(f)
		var partial []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			partial = append(partial, chunk...)
			switch {
			case errors.Is(err, io.EOF):
				select {
				case <-ctx.Done():
					return
				case <-time.After(PollInterval):
				}
				continue
			case err != nil:
				s.logger.Error("Failed to read file", err, watermill.LogFields{"file": s.filePath})
				return
			}
			line := partial
			partial = nil
			if !s.deliver(ctx, out, line, topic) {
				return
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var rec record
	if err := jsoncodec.Unmarshal(line, &rec); err != nil {
		s.logger.Error("Failed to unmarshal record", err, watermill.LogFields{"file": s.filePath})
		return true
	}
	if rec.Topic != topic {
		return true
	}

	msg := message.NewMessage(rec.UUID, rec.Payload)
	for k, v := range rec.Metadata {
		msg.Metadata.Set(k, v)
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	}
	return true
}
