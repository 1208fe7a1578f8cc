package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

func TestDirect_PairDeliversCopies(t *testing.T) {
	ctx := context.Background()
	a := NewDirect("a", nil, nil)
	b := NewDirect("b", nil, nil)
	Pair(a, b)

	var got []*envelope.Msg
	b.AddCallback(func(ch Channel, m *envelope.Msg) {
		if m.Type == envelope.Data {
			assert.Equal(t, "b", ch.Name())
			got = append(got, m)
		}
	})

	require.NoError(t, a.Open(ctx, nil))
	m := &envelope.Msg{MsgID: 1, Seq: 7, Data: []byte("hello")}
	assert.ErrorIs(t, a.Post(ctx, m), errspkg.ErrNotActive, "peer not open")

	require.NoError(t, b.Open(ctx, nil))
	require.NoError(t, a.Post(ctx, m))
	m.Data[0] = 'H'

	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, int64(7), got[0].Seq)
}

func TestDirect_StatesAndConfig(t *testing.T) {
	ctx := context.Background()
	d := NewDirect("d", nil, nil)

	var states []State
	id := d.AddCallback(func(_ Channel, m *envelope.Msg) {
		if m.Type == envelope.State {
			states = append(states, State(m.MsgID))
		}
	})

	require.NoError(t, d.Open(ctx, config.NewProps("mode", "x")))
	assert.ErrorIs(t, d.Open(ctx, nil), errspkg.ErrAlreadyOpen)

	cfg := d.Config()
	assert.Equal(t, "Active", cfg.GetOr("state", ""))
	assert.Equal(t, "x", cfg.GetOr("open.mode", ""))

	require.NoError(t, d.Close(ctx, false))
	assert.Equal(t, []State{Opening, Active, Closing, Closed}, states)

	d.RemoveCallback(id)
	require.NoError(t, d.Open(ctx, nil))
	assert.Len(t, states, 4)
}

func TestNull_DropsPosts(t *testing.T) {
	ctx := context.Background()
	n := NewNull("null", nil, nil)

	assert.ErrorIs(t, n.Post(ctx, &envelope.Msg{}), errspkg.ErrNotActive)
	require.NoError(t, n.Open(ctx, nil))
	assert.NoError(t, n.Post(ctx, &envelope.Msg{Data: []byte("x")}))
	require.NoError(t, n.Close(ctx, true))
	assert.Equal(t, Closed, n.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewNull("b", nil, nil)))
	require.NoError(t, r.Add(NewDirect("a", nil, nil)))
	assert.Error(t, r.Add(NewNull("a", nil, nil)))

	ch, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", ch.Name())
	assert.Equal(t, []string{"a", "b"}, r.Names())

	r.Remove("a")
	_, err = r.Get("a")
	assert.ErrorIs(t, err, errspkg.ErrChannelNotFound)
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Closed, Opening, Active, Closing, Error, Destroy} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseState("Sleeping")
	assert.Error(t, err)
}
