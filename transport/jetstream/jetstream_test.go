package jetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/luaflow/transport"
	"github.com/drblury/luaflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	old := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = old }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.Equal(t, transport.NATSJetStreamCapabilities, transport.GetCapabilities(TransportName))
	assert.True(t, Capabilities().SupportsReliableDelivery())
}

func TestBuildConnectError(t *testing.T) {
	original := Connect
	defer func() { Connect = original }()

	var gotURL string
	Connect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
		gotURL = url
		return nil, errors.New("no servers available")
	}

	_, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "connect to NATS: no servers available")
	assert.Equal(t, "nats://localhost:4222", gotURL)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultStream, c.Stream)
	assert.Equal(t, DefaultMaxDeliver, c.MaxDeliver)
	assert.Equal(t, DefaultAckWait, c.AckWait)
	assert.Equal(t, 1, c.Replicas)

	c = Config{Stream: "ORDERS", MaxDeliver: 5, AckWait: time.Second, Replicas: 3}.withDefaults()
	assert.Equal(t, "ORDERS", c.Stream)
	assert.Equal(t, 5, c.MaxDeliver)
	assert.Equal(t, 3, c.Replicas)
}

func TestStreamConfig(t *testing.T) {
	tests := []struct {
		retention string
		want      nats.RetentionPolicy
	}{
		{"", nats.LimitsPolicy},
		{"interest", nats.InterestPolicy},
		{"workqueue", nats.WorkQueuePolicy},
	}
	for _, tt := range tests {
		sc := Config{Stream: "S", Retention: tt.retention}.withDefaults().streamConfig()
		assert.Equal(t, tt.want, sc.Retention, tt.retention)
		assert.Equal(t, []string{"S.>"}, sc.Subjects)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "LUAFLOW.orders.created", subjectFor(DefaultStream, "orders.created"))
	assert.Equal(t, "luaflow_orders_created", consumerFor("orders.created"))
	assert.Equal(t, "luaflow_a_b", consumerFor("a.*>b"))
	assert.Equal(t, "luaflow_a_b", consumerFor(".a. b>"))
}

func TestMessageConversion(t *testing.T) {
	wm := message.NewMessage("01HZX", []byte{1, 2, 3})
	wm.Metadata.Set("luaflow_seq", "7")

	nm := toNATS("LUAFLOW.t", wm)
	assert.Equal(t, "LUAFLOW.t", nm.Subject)
	assert.Equal(t, "01HZX", nm.Header.Get(nats.MsgIdHdr))

	back := toWatermill(nm)
	assert.Equal(t, "01HZX", back.UUID)
	assert.Equal(t, []byte{1, 2, 3}, []byte(back.Payload))
	assert.Equal(t, "7", back.Metadata.Get("luaflow_seq"))
	assert.Empty(t, back.Metadata.Get(nats.MsgIdHdr))

	anon := toWatermill(&nats.Msg{Data: []byte("x"), Header: nats.Header{}})
	require.Len(t, anon.UUID, 26)
}
