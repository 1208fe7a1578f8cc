package scheme

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// Dump renders the scheme back to the YAML form accepted by Parse.
func (s *Scheme) Dump() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.SequenceNode}

	if s.Options.Len() > 0 || len(s.Enums) > 0 || len(s.Bits) > 0 || len(s.Aliases) > 0 {
		global := mapNode()
		addPair(global, "name", strNode(""))
		addOptions(global, s.Options)
		addEnums(global, s.Enums)
		addBits(global, s.Bits)
		if len(s.Aliases) > 0 {
			list := &yaml.Node{Kind: yaml.SequenceNode}
			for _, a := range s.Aliases {
				list.Content = append(list.Content, dumpField(a, nil, s))
			}
			addPair(global, "aliases", list)
		}
		root.Content = append(root.Content, global)
	}

	for _, m := range s.Messages {
		n := mapNode()
		addPair(n, "name", strNode(m.Name))
		if m.MsgID != 0 {
			addPair(n, "id", strNode(strconv.FormatInt(int64(m.MsgID), 10)))
		}
		addOptions(n, m.Options)
		addEnums(n, m.Enums)
		addBits(n, m.Bits)
		fields := &yaml.Node{Kind: yaml.SequenceNode}
		for _, f := range m.Fields {
			fields.Content = append(fields.Content, dumpField(f, m, s))
		}
		addPair(n, "fields", fields)
		root.Content = append(root.Content, n)
	}

	return yaml.Marshal(root)
}

func dumpField(f *Field, m *Message, s *Scheme) *yaml.Node {
	n := mapNode()
	n.Style = yaml.FlowStyle
	addPair(n, "name", strNode(f.Name))
	addPair(n, "type", strNode(f.typeName))
	addOptions(n, f.Options)

	inner := f
	for inner.Elem != nil && (inner.Type == Array || (inner.Type == Pointer && inner.SubType != SubByteString)) {
		inner = inner.Elem
	}
	if inner.Enum != nil && !declaredEnum(inner.Enum, m, s) {
		values := mapNode()
		for _, v := range inner.Enum.Values {
			addPair(values, v.Name, strNode(strconv.FormatInt(v.Value, 10)))
		}
		addPair(n, "enum", values)
	}
	if inner.Bits != nil && !declaredBits(inner.Bits, m, s) {
		addPair(n, "bits", bitList(inner.Bits))
	}
	return n
}

func declaredEnum(e *Enum, m *Message, s *Scheme) bool {
	if m != nil {
		for _, x := range m.Enums {
			if x == e {
				return true
			}
		}
	}
	for _, x := range s.Enums {
		if x == e {
			return true
		}
	}
	return false
}

func declaredBits(b *Bits, m *Message, s *Scheme) bool {
	if m != nil {
		for _, x := range m.Bits {
			if x == b {
				return true
			}
		}
	}
	for _, x := range s.Bits {
		if x == b {
			return true
		}
	}
	return false
}

func addEnums(n *yaml.Node, enums []*Enum) {
	if len(enums) == 0 {
		return
	}
	out := mapNode()
	for _, e := range enums {
		body := mapNode()
		addPair(body, "type", strNode(e.Type.String()))
		values := mapNode()
		values.Style = yaml.FlowStyle
		for _, v := range e.Values {
			addPair(values, v.Name, strNode(strconv.FormatInt(v.Value, 10)))
		}
		addPair(body, "enum", values)
		addOptions(body, e.Options)
		addPair(out, e.Name, body)
	}
	addPair(n, "enums", out)
}

func addBits(n *yaml.Node, bits []*Bits) {
	if len(bits) == 0 {
		return
	}
	out := mapNode()
	for _, b := range bits {
		body := mapNode()
		addPair(body, "type", strNode(b.Type.String()))
		addPair(body, "bits", bitList(b))
		addOptions(body, b.Options)
		addPair(out, b.Name, body)
	}
	addPair(n, "bits", out)
}

func bitList(b *Bits) *yaml.Node {
	list := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, bf := range b.Fields {
		item := mapNode()
		addPair(item, "name", strNode(bf.Name))
		addPair(item, "offset", strNode(strconv.FormatUint(uint64(bf.Offset), 10)))
		addPair(item, "size", strNode(strconv.FormatUint(uint64(bf.Size), 10)))
		list.Content = append(list.Content, item)
	}
	return list
}

func addOptions(n *yaml.Node, o Options) {
	if o.Len() == 0 {
		return
	}
	out := mapNode()
	for _, k := range o.keys {
		addPair(out, k, strNode(o.values[k]))
	}
	addPair(n, "options", out)
}

func mapNode() *yaml.Node { return &yaml.Node{Kind: yaml.MappingNode} }

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func addPair(n *yaml.Node, key string, val *yaml.Node) {
	n.Content = append(n.Content, strNode(key), val)
}
