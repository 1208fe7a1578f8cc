package io

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
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

	assert.Equal(t, transport.IOCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.IOCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = originalPub, originalSub }()

	var paths []string
	PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
		paths = append(paths, filePath)
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		paths = append(paths, filePath)
		return &transporttest.Subscriber{}, nil
	}

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	_, err = Build(context.Background(), &transporttest.Config{IOFile: "/tmp/bus.log"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultFilePath, DefaultFilePath, "/tmp/bus.log", "/tmp/bus.log"}, paths)

	pub := &transporttest.Publisher{}
	PublisherFactory = func(string, watermill.LoggerAdapter) (message.Publisher, error) { return pub, nil }
	SubscriberFactory = func(string, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}

func TestPublishWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.log")
	pub := &Publisher{filePath: path, logger: watermill.NopLogger{}}

	msg := message.NewMessage("uuid-1", []byte{0, 1, 2})
	msg.Metadata.Set("luaflow_name", "Data")
	require.NoError(t, pub.Publish("out", msg, message.NewMessage("uuid-2", nil)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"uuid":"uuid-1"`)
	assert.Contains(t, string(content), `"topic":"out"`)
	assert.Contains(t, string(content), `"luaflow_name":"Data"`)
	assert.Contains(t, string(content), `"payload":"AAEC"`)
	assert.Equal(t, 2, countLines(content))
}

func TestSubscribeFiltersAndTails(t *testing.T) {
	oldPoll := PollInterval
	PollInterval = 5 * time.Millisecond
	defer func() { PollInterval = oldPoll }()

	path := filepath.Join(t.TempDir(), "bus.log")
	pub := &Publisher{filePath: path, logger: watermill.NopLogger{}}
	require.NoError(t, pub.Publish("other", message.NewMessage("skip", []byte("x"))))
	require.NoError(t, pub.Publish("in", message.NewMessage("first", []byte("a"))))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := &Subscriber{filePath: path, logger: watermill.NopLogger{}}
	msgs, err := sub.Subscribe(ctx, "in")
	require.NoError(t, err)

	first := receive(t, ctx, msgs)
	assert.Equal(t, "first", first.UUID)
	first.Ack()

	msg := message.NewMessage("second", []byte("b"))
	msg.Metadata.Set("k", "v")
	require.NoError(t, pub.Publish("in", msg))

	second := receive(t, ctx, msgs)
	assert.Equal(t, "second", second.UUID)
	assert.Equal(t, "v", second.Metadata.Get("k"))
	assert.Equal(t, []byte("b"), []byte(second.Payload))
	second.Ack()
}

func receive(t *testing.T, ctx context.Context, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m, ok := <-msgs:
		require.True(t, ok, "subscription closed")
		return m
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}
	return nil
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
