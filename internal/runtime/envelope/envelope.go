// Package envelope defines the message passed between channels, scripts and
// child transports.
package envelope

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/luaflow/internal/runtime/ids"
	"github.com/drblury/luaflow/internal/runtime/metadata"
)

// Type distinguishes data from service messages.
type Type int16

const (
	Data    Type = 0
	Control Type = 1
	State   Type = 2
	Channel Type = 3
)

func (t Type) String() string {
	switch t {
	case Data:
		return "Data"
	case Control:
		return "Control"
	case State:
		return "State"
	case Channel:
		return "Channel"
	}
	return strconv.Itoa(int(t))
}

// ParseType accepts "Data", "Control" or a number.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "Data":
		return Data, nil
	case "Control":
		return Control, nil
	case "State":
		return State, nil
	case "Channel":
		return Channel, nil
	}
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return Data, fmt.Errorf("unknown message type %q, need one of Data or Control", s)
	}
	return Type(n), nil
}

// Msg is one message. Data is only valid for the duration of the call that
// received it unless the receiver copies it.
type Msg struct {
	Type  Type
	MsgID int32
	Seq   int64
	Addr  int64
	Time  time.Time
	Data  []byte
}

// Clone returns a copy that owns its data.
func (m *Msg) Clone() *Msg {
	c := *m
	c.Data = append([]byte(nil), m.Data...)
	return &c
}

// TimeNanos returns the message time as nanoseconds since epoch, zero when
// unset.
func (m *Msg) TimeNanos() int64 {
	if m.Time.IsZero() {
		return 0
	}
	return m.Time.UnixNano()
}

// Metadata renders the envelope fields as transport headers. name is the
// message name resolved from the scheme, if any.
func (m *Msg) Metadata(name, from string) metadata.Metadata {
	md := metadata.New(metadata.KeyType, m.Type.String()).
		WithInt(metadata.KeyMsgID, int64(m.MsgID)).
		WithInt(metadata.KeySeq, m.Seq).
		WithInt(metadata.KeyAddr, m.Addr)
	if ns := m.TimeNanos(); ns != 0 {
		md = md.WithInt(metadata.KeyTime, ns)
	}
	if name != "" {
		md = md.With(metadata.KeyName, name)
	}
	if from != "" {
		md = md.With(metadata.KeyFrom, from)
	}
	return md
}

// ToWatermill wraps the message for publishing. The payload is copied.
func ToWatermill(m *Msg, name, from string) *message.Message {
	wm := message.NewMessage(idspkg.CreateULID(), append([]byte(nil), m.Data...))
	wm.Metadata = metadata.ToWatermill(m.Metadata(name, from))
	return wm
}

// FromWatermill restores the envelope of a received message. Messages
// published by other producers carry no envelope headers and are read as
// plain data with msgid 0.
func FromWatermill(wm *message.Message) (*Msg, error) {
	md := metadata.FromWatermill(wm.Metadata)
	m := &Msg{Data: wm.Payload}
	if raw, ok := md[metadata.KeyType]; ok {
		t, err := ParseType(raw)
		if err != nil {
			return nil, err
		}
		m.Type = t
	}
	if id, ok := md.Int(metadata.KeyMsgID); ok {
		m.MsgID = int32(id)
	}
	m.Seq, _ = md.Int(metadata.KeySeq)
	m.Addr, _ = md.Int(metadata.KeyAddr)
	if ns, ok := md.Int(metadata.KeyTime); ok {
		m.Time = time.Unix(0, ns).UTC()
	}
	return m, nil
}
