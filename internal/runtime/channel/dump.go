package channel

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/drblury/luaflow/internal/runtime/codec"
	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	"github.com/drblury/luaflow/internal/runtime/jsoncodec"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// dumper renders messages passing through a channel when dump is enabled.
type dumper struct {
	mode string
	w    io.Writer
	log  logging.ServiceLogger
}

// dumpRecord is the json form of a dumped message.
type dumpRecord struct {
	Channel   string `json:"channel"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	MsgID     int32  `json:"msgid"`
	Seq       int64  `json:"seq"`
	Addr      int64  `json:"addr,omitempty"`
	Time      int64  `json:"time,omitempty"`
	Size      int    `json:"size"`
	Body      any    `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (d *dumper) enabled() bool {
	return d != nil && d.mode != "" && d.mode != config.DumpNo
}

func (d *dumper) dump(ch, direction string, m *envelope.Msg, s *scheme.Scheme, c *codec.Codec) {
	if !d.enabled() {
		return
	}
	rec := dumpRecord{
		Channel:   ch,
		Direction: direction,
		Type:      m.Type.String(),
		MsgID:     m.MsgID,
		Seq:       m.Seq,
		Addr:      m.Addr,
		Time:      m.TimeNanos(),
		Size:      len(m.Data),
	}
	if desc := lookupDesc(s, m); desc != nil && c != nil {
		rec.Name = desc.Name
		body, err := decodeBody(c, desc, m.Data)
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Body = body
		}
	}

	var line string
	switch d.mode {
	case config.DumpJSON:
		data, err := jsoncodec.Marshal(rec)
		if err != nil {
			d.log.Error("Failed to render message dump", err, logging.LogFields{"direction": direction})
			return
		}
		line = string(data)
	default:
		line = rec.text()
	}

	if d.w != nil {
		fmt.Fprintln(d.w, line)
		return
	}
	d.log.Info("Message dump", logging.LogFields{"direction": direction, "dump": line})
}

func lookupDesc(s *scheme.Scheme, m *envelope.Msg) *scheme.Message {
	if s == nil || m.Type == envelope.State {
		return nil
	}
	desc, _ := s.LookupID(m.MsgID)
	return desc
}

func decodeBody(c *codec.Codec, desc *scheme.Message, data []byte) (any, error) {
	msg, err := c.Decode(desc, data)
	if err != nil {
		return nil, err
	}
	v, err := codec.DeepCopy(msg)
	if err != nil {
		return nil, err
	}
	return printable(v), nil
}

// printable replaces codec handles with their string forms so the value
// renders the same in text and json.
func printable(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = printable(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = printable(item)
		}
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func (r dumpRecord) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: type=%s", r.Channel, r.Direction, r.Type)
	if r.Name != "" {
		fmt.Fprintf(&b, " name=%s", r.Name)
	}
	fmt.Fprintf(&b, " msgid=%d seq=%d", r.MsgID, r.Seq)
	if r.Addr != 0 {
		fmt.Fprintf(&b, " addr=%d", r.Addr)
	}
	fmt.Fprintf(&b, " size=%d", r.Size)
	switch {
	case r.Error != "":
		fmt.Fprintf(&b, " error=%q", r.Error)
	case r.Body != nil:
		b.WriteString(" ")
		writeText(&b, r.Body)
	}
	return b.String()
}

func writeText(b *strings.Builder, v any) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			writeText(b, x[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, item := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeText(b, item)
		}
		b.WriteString("]")
	case string:
		fmt.Fprintf(b, "%q", x)
	default:
		fmt.Fprint(b, x)
	}
}
