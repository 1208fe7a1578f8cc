// Package jetstream provides a NATS JetStream transport for bus children.
// Every topic maps to a subject of one stream and is read through a durable
// pull consumer, so a reopened channel resumes where it stopped.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	idspkg "github.com/drblury/luaflow/internal/runtime/ids"
	"github.com/drblury/luaflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStream is used when the bus config names no stream.
	DefaultStream = "LUAFLOW"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// FetchBatch is the number of messages pulled per fetch.
	FetchBatch = 10
)

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() { Register() }

// Register registers the transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a JetStream transport from the bus config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL(), Stream: cfg.GetNATSStream()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream specific configuration.
type Config struct {
	URL string

	// Stream is created on first use with subjects "<Stream>.>".
	Stream string

	MaxDeliver int
	AckWait    time.Duration

	// Replicas is the number of stream replicas in a cluster.
	Replicas int

	// Retention: "limits" (default), "interest" or "workqueue".
	Retention string
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) streamConfig() *nats.StreamConfig {
	sc := &nats.StreamConfig{
		Name:     c.Stream,
		Subjects: []string{c.Stream + ".>"},
		MaxAge:   7 * 24 * time.Hour,
		Replicas: c.Replicas,
	}
	switch c.Retention {
	case "interest":
		sc.Retention = nats.InterestPolicy
	case "workqueue":
		sc.Retention = nats.WorkQueuePolicy
	default:
		sc.Retention = nats.LimitsPolicy
	}
	return sc
}

// Transport implements message.Publisher and message.Subscriber.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subMu         sync.Mutex
	subscriptions []*nats.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

// New connects to the server and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL, nats.Name("luaflow"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	sc := t.config.streamConfig()
	if _, err := t.js.AddStream(sc); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(sc); err != nil {
		return fmt.Errorf("ensure stream %s: %w", sc.Name, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Publish publishes messages to the subject of topic. The watermill UUID
// doubles as the JetStream deduplication id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errors.New("jetstream: transport is closed")
	}
	subject := subjectFor(t.config.Stream, topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates or updates the durable consumer of topic and streams
// its messages until ctx is done or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errors.New("jetstream: transport is closed")
	}

	subject := subjectFor(t.config.Stream, topic)
	durable := consumerFor(topic)
	cc := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.Stream, cc); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.Stream, cc); err != nil {
			return nil, fmt.Errorf("create consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	out := make(chan *message.Message)
	go t.fetch(ctx, sub, out, topic)
	return out, nil
}

func (t *Transport) fetch(ctx context.Context, sub *nats.Subscription, out chan<- *message.Message, topic string) {
	defer close(out)
	fields := watermill.LogFields{"topic": topic}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		msgs, err := sub.Fetch(FetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if t.isClosed() {
				return
			}
			t.logger.Error("Failed to fetch messages", err, fields)
			continue
		}

		for _, nm := range msgs {
			wm := toWatermill(nm)
			select {
			case out <- wm:
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
			select {
			case <-wm.Acked():
				if err := nm.Ack(); err != nil {
					t.logger.Error("Failed to ack", err, fields)
				}
			case <-wm.Nacked():
				if err := nm.Nak(); err != nil {
					t.logger.Error("Failed to nak", err, fields)
				}
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
		}
	}
}

// Close unsubscribes every consumer and closes the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)

		t.subMu.Lock()
		for _, sub := range t.subscriptions {
			_ = sub.Unsubscribe()
		}
		t.subscriptions = nil
		t.subMu.Unlock()

		t.nc.Close()
	})
	return nil
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		header.Set(k, v)
	}
	header.Set(nats.MsgIdHdr, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: header}
}

func toWatermill(nm *nats.Msg) *message.Message {
	id := nm.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = idspkg.CreateULID()
	}
	wm := message.NewMessage(id, nm.Data)
	for k, v := range nm.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		wm.Metadata.Set(k, v[0])
	}
	return wm
}

func subjectFor(stream, topic string) string {
	return stream + "." + topic
}

// consumerFor derives a durable name, which may not contain subject tokens.
// Each run of tokens and spaces becomes a single underscore.
func consumerFor(topic string) string {
	parts := strings.FieldsFunc(topic, func(r rune) bool {
		return r == '.' || r == '*' || r == '>' || r == ' '
	})
	return "luaflow_" + strings.Join(parts, "_")
}
