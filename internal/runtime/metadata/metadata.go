package metadata

import "strconv"

// Keys carrying the message envelope when a message crosses a watermill
// transport.
const (
	KeyType  = "luaflow_type"
	KeySeq   = "luaflow_seq"
	KeyMsgID = "luaflow_msgid"
	KeyName  = "luaflow_name"
	KeyAddr  = "luaflow_addr"
	KeyTime  = "luaflow_time"
	KeyFrom  = "luaflow_channel"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithInt is With for integer values.
func (m Metadata) WithInt(key string, value int64) Metadata {
	return m.With(key, strconv.FormatInt(value, 10))
}

// Int parses key as a signed integer. Missing or malformed values report false.
func (m Metadata) Int(key string) (int64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
