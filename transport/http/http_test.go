package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
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

	assert.Equal(t, transport.HTTPCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = originalPub, originalSub }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	var marshal watermillhttp.MarshalMessageFunc
	PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = config.MarshalMessageFunc
		return pub, nil
	}
	SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8080", addr)
		return sub, nil
	}

	tr, err := Build(context.Background(), &transporttest.Config{
		HTTPServerAddress: ":8080",
		HTTPPublisherURL:  "http://localhost:9090/",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)

	req, err := marshal("events", message.NewMessage("1", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090/events", req.URL.String())

	_, err = tr.Subscriber.Subscribe(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, []string{"/events"}, sub.Topics)
}

func TestBuildErrors(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = originalPub, originalSub }()

	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")

	pub := &transporttest.Publisher{}
	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}
