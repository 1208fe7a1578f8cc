package msgbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

func TestViewReadsLittleEndian(t *testing.T) {
	v := New([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xff})

	u16, err := v.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), u16)

	u32, err := v.At(4).Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08070605), u32)

	i8, err := v.Int(8, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), i8)

	_, err = v.Uint64(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
}

func TestReadPointerLargeEntity(t *testing.T) {
	data := []byte{
		0x08, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0xff,
		0x0a, 0x01, 0x00, 0x00,
	}
	data = append(data, make([]byte, 2*0x10a)...)
	data[12] = 0x11
	data[12+0x10a] = 0x22

	p, err := ReadPointer(New(data), 0, scheme.PtrDefault, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, 0x10a, p.Entity)

	first, err := p.Elem(0).Uint8(0)
	require.NoError(t, err)
	second, err := p.Elem(1).Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x11), first)
	assert.Equal(t, uint8(0x22), second)
}

func TestReadPointerRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		elem int
	}{
		{
			name: "entity smaller than element",
			data: []byte{0x08, 0, 0, 0, 0x01, 0, 0, 0x02, 0, 0, 0, 0},
			elem: 4,
		},
		{
			name: "data past end",
			data: []byte{0x08, 0, 0, 0, 0x04, 0, 0, 0x04, 0, 0, 0, 0},
			elem: 4,
		},
		{
			name: "offset past end",
			data: []byte{0x40, 0, 0, 0, 0x01, 0, 0, 0x01},
			elem: 1,
		},
		{
			name: "truncated header",
			data: []byte{0x08, 0, 0},
			elem: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPointer(New(tt.data), 0, scheme.PtrDefault, tt.elem)
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrDecode)
		})
	}
}

func TestReadPointerLargerEntityAccepted(t *testing.T) {
	data := []byte{0x08, 0, 0, 0, 0x02, 0, 0, 0x03, 1, 0, 9, 2, 0, 9}
	p, err := ReadPointer(New(data), 0, scheme.PtrDefault, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Entity)

	x, err := p.Elem(1).Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), x)
}

func TestAllocPointerRoundTrip(t *testing.T) {
	versions := []scheme.PointerVersion{scheme.PtrDefault, scheme.PtrLegacyShort, scheme.PtrLegacyLong}
	for _, ver := range versions {
		t.Run(ver.String(), func(t *testing.T) {
			b := NewBuilder(4 + ver.Size())
			b.PutUint32(0, 0xdeadbeef)

			data, err := b.AllocPointer(4, ver, 3, 2)
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				b.PutUint16(data+2*i, uint16(100+i))
			}

			p, err := ReadPointer(b.View(), 4, ver, 2)
			require.NoError(t, err)
			require.Equal(t, 3, p.Count)
			for i := 0; i < 3; i++ {
				x, err := p.Elem(i).Uint16(0)
				require.NoError(t, err)
				assert.Equal(t, uint16(100+i), x)
			}
		})
	}
}

func TestAllocPointerWireLayout(t *testing.T) {
	b := NewBuilder(8)
	data, err := b.AllocPointer(0, scheme.PtrDefault, 2, 0x10a)
	require.NoError(t, err)
	assert.Equal(t, 12, data)
	assert.Equal(t, []byte{0x08, 0, 0, 0, 0x02, 0, 0, 0xff, 0x0a, 0x01, 0, 0}, b.Bytes()[:12])
	assert.Len(t, b.Bytes(), 12+2*0x10a)
}

func TestAllocPointerEmpty(t *testing.T) {
	b := NewBuilder(8)
	b.PutUint64(0, ^uint64(0))
	_, err := b.AllocPointer(0, scheme.PtrDefault, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), b.Bytes())

	p, err := ReadPointer(b.View(), 0, scheme.PtrDefault, 4)
	require.NoError(t, err)
	assert.Zero(t, p.Count)
}

func TestAllocPointerLimits(t *testing.T) {
	b := NewBuilder(4)
	_, err := b.AllocPointer(0, scheme.PtrLegacyShort, 70000, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	b = NewBuilder(8)
	_, err = b.AllocPointer(0, scheme.PtrDefault, 1<<24, 1)
	require.Error(t, err)
}
