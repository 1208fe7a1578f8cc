package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetNATSStream() string         { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetIOFile() string             { return "" }

type mockPublisher struct {
	closed   bool
	closeErr error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed = true
	return m.closeErr
}

type mockSubscriber struct {
	closed   bool
	closeErr error
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed = true
	return m.closeErr
}

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())

	reg.RegisterWithCapabilities("bus-a", okBuilder, Capabilities{Name: "bus-a", SupportsOrdering: true})
	reg.Register("bus-b", okBuilder)

	assert.True(t, reg.Has("bus-a"))
	assert.Equal(t, []string{"bus-a", "bus-b"}, reg.Names())
	assert.True(t, reg.GetCapabilities("bus-a").SupportsOrdering)
	assert.Equal(t, Capabilities{Name: "bus-b"}, reg.GetCapabilities("bus-b"))

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "bus-a"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_BuildErrors(t *testing.T) {
	reg := NewRegistry()
	builderErr := errors.New("dial failed")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, builderErr
	})

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"nil config", nil, "config is required"},
		{"unknown system", &mockConfig{pubSubSystem: "missing"}, `unknown system "missing"`},
		{"builder error", &mockConfig{pubSubSystem: "failing"}, "transport failing: dial failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Build(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing"}, nil)
	assert.ErrorIs(t, err, builderErr)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("bus", okBuilder)
				reg.Has("bus")
				reg.Names()
				reg.GetCapabilities("bus")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("bus"))
}

func TestPackageLevelRegistry(t *testing.T) {
	RegisterWithCapabilities("test-pkg-bus", okBuilder, Capabilities{Name: "test-pkg-bus", MaxMessageSize: 10})

	assert.True(t, DefaultRegistry.Has("test-pkg-bus"))
	assert.Equal(t, int64(10), GetCapabilities("test-pkg-bus").MaxMessageSize)

	_, err := Build(context.Background(), &mockConfig{pubSubSystem: "test-pkg-missing"}, nil)
	assert.Error(t, err)
}
