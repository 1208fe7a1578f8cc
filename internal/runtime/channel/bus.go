package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
	"github.com/drblury/luaflow/transport"
)

// Bus is a child channel backed by a watermill transport. Posts are
// published to the configured topic; messages arriving on the input topic
// are delivered to the callbacks as child data.
type Bus struct {
	base

	conf     config.Bus
	registry *transport.Registry
	scheme   *scheme.Scheme

	mu     sync.Mutex
	tr     transport.Transport
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// handling is set while a received message is being delivered.
	handling atomic.Bool
}

// NewBus creates a bus child. A nil registry uses transport.DefaultRegistry.
func NewBus(name string, conf config.Bus, s *scheme.Scheme, registry *transport.Registry, log logging.ServiceLogger) *Bus {
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	b := &Bus{
		base:     newBase(name, nil, log, Hooks{}),
		conf:     conf,
		registry: registry,
		scheme:   s,
	}
	b.self = b
	return b
}

// Open builds the transport and starts consuming the input topic.
func (b *Bus) Open(ctx context.Context, params *config.Props) error {
	if s := b.State(); s != Closed && s != Error {
		return errspkg.ErrAlreadyOpen
	}
	if b.conf.Topic == "" {
		return errspkg.Config("bus", "topic is required")
	}
	b.openParams.Store(params)
	b.setState(Opening)

	tr, err := b.registry.Build(ctx, &b.conf, logging.NewWatermillAdapter(b.log))
	if err != nil {
		b.setState(Error)
		return fmt.Errorf("bus %s: %w", b.name, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := tr.Subscriber.Subscribe(subCtx, b.conf.SubscribeTopic())
	if err != nil {
		cancel()
		_ = tr.Close()
		b.setState(Error)
		return fmt.Errorf("bus %s: subscribe %s: %w", b.name, b.conf.SubscribeTopic(), err)
	}

	b.mu.Lock()
	b.tr = tr
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(subCtx, messages)

	b.log.Info("Bus child opened", logging.LogFields{
		"system": b.conf.System,
		"topic":  b.conf.Topic,
		"input":  b.conf.SubscribeTopic(),
	})
	b.setState(Active)
	return nil
}

func (b *Bus) consume(ctx context.Context, messages <-chan *message.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case wm, ok := <-messages:
			if !ok {
				return
			}
			b.handle(wm)
		}
	}
}

func (b *Bus) handle(wm *message.Message) {
	m, err := envelope.FromWatermill(wm)
	if err != nil {
		b.log.Error("Dropping malformed bus message", err, logging.LogFields{"uuid": wm.UUID})
		wm.Ack()
		return
	}
	if b.State() == Active {
		b.handling.Store(true)
		b.deliver(m)
		b.handling.Store(false)
	}
	wm.Ack()
}

// Post publishes m to the output topic.
func (b *Bus) Post(_ context.Context, m *envelope.Msg) error {
	if b.State() != Active {
		return errspkg.ErrNotActive
	}
	b.mu.Lock()
	pub := b.tr.Publisher
	b.mu.Unlock()
	if pub == nil {
		return errspkg.ErrNotActive
	}

	var name string
	if desc := lookupDesc(b.Scheme(m.Type), m); desc != nil {
		name = desc.Name
	}
	if err := pub.Publish(b.conf.Topic, envelope.ToWatermill(m, name, b.name)); err != nil {
		return fmt.Errorf("bus %s: publish %s: %w", b.name, b.conf.Topic, err)
	}
	return nil
}

// Close stops the consumer and closes the transport.
func (b *Bus) Close(context.Context, bool) error {
	if b.State() == Closed {
		return nil
	}
	b.setState(Closing)

	b.mu.Lock()
	cancel, tr := b.cancel, b.tr
	b.cancel, b.tr = nil, transport.Transport{}
	b.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = tr.Close()
	}
	// A callback on the consumer goroutine may close the child; the
	// consumer exits on its own once the callback returns.
	if !b.handling.Load() {
		b.wg.Wait()
	}
	b.setState(Closed)
	return err
}

func (b *Bus) Scheme(t envelope.Type) *scheme.Scheme {
	if t == envelope.Data {
		return b.scheme
	}
	return nil
}

func (b *Bus) Config() *config.Props {
	p := b.configTree()
	p.Set("bus.system", b.conf.System)
	p.Set("bus.topic", b.conf.Topic)
	p.Set("bus.input-topic", b.conf.SubscribeTopic())
	return p
}
