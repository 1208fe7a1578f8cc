package scheme

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

type rawEnum struct {
	name    string
	typ     string
	values  []EnumValue
	options Options
}

type rawBit struct {
	name   string
	offset *uint
	size   uint
}

type rawBits struct {
	name    string
	typ     string
	fields  []rawBit
	options Options
}

type rawField struct {
	name    string
	typ     string
	options Options
	enum    *rawEnum
	bits    *rawBits
	line    int
}

type rawMessage struct {
	name    string
	id      int32
	options Options
	enums   []*rawEnum
	bits    []*rawBits
	fields  []*rawField
	line    int
}

type rawScheme struct {
	options  Options
	enums    []*rawEnum
	bits     []*rawBits
	aliases  []*rawField
	messages []*rawMessage
}

// Parse builds a Scheme from its YAML description. The document is a list of
// entries; entries without a name carry global options, enums, bitsets and
// aliases, named entries are messages. Any resolution failure is returned as a
// configuration error and no partial scheme is exposed.
func Parse(data []byte) (*Scheme, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errspkg.Config("parse scheme", "invalid yaml: %w", err)
	}

	raw, err := parseDocument(&doc)
	if err != nil {
		return nil, errspkg.WithOp("parse scheme", err)
	}

	s, err := resolve(raw)
	if err != nil {
		return nil, errspkg.WithOp("resolve scheme", err)
	}
	return s, nil
}

// ParseFile reads and parses a YAML scheme file.
func ParseFile(path string) (*Scheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errspkg.Config("load scheme", "read file %s: %w", path, err)
	}
	return Parse(data)
}

// Load resolves a scheme reference: "yamls://<inline yaml>", "yaml://<path>"
// or a bare file path.
func Load(url string) (*Scheme, error) {
	switch {
	case strings.HasPrefix(url, "yamls://"):
		return Parse([]byte(strings.TrimPrefix(url, "yamls://")))
	case strings.HasPrefix(url, "yaml://"):
		return ParseFile(strings.TrimPrefix(url, "yaml://"))
	case url == "":
		return nil, errspkg.Config("load scheme", "empty scheme url")
	default:
		return ParseFile(url)
	}
}

func parseDocument(doc *yaml.Node) (*rawScheme, error) {
	raw := &rawScheme{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return raw, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return raw, nil
	}
	if root.Kind != yaml.SequenceNode {
		return nil, configAt(root, "scheme must be a list of entries")
	}

	for _, item := range root.Content {
		if err := parseEntry(raw, item); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func parseEntry(raw *rawScheme, n *yaml.Node) error {
	kv, err := mappingPairs(n)
	if err != nil {
		return err
	}

	msg := &rawMessage{line: n.Line}
	var hasFields bool
	for _, p := range kv {
		switch p.key {
		case "name":
			if msg.name, err = scalar(p.val); err != nil {
				return err
			}
		case "id":
			s, err := scalar(p.val)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return configAt(p.val, "invalid message id %q", s)
			}
			msg.id = int32(id)
		case "options":
			if err := parseOptions(&msg.options, "", p.val); err != nil {
				return err
			}
		case "enums":
			if msg.enums, err = parseEnums(p.val); err != nil {
				return err
			}
		case "bits":
			if msg.bits, err = parseBitsSet(p.val); err != nil {
				return err
			}
		case "fields":
			hasFields = true
			if msg.fields, err = parseFields(p.val); err != nil {
				return err
			}
		case "aliases":
			aliases, err := parseFields(p.val)
			if err != nil {
				return err
			}
			raw.aliases = append(raw.aliases, aliases...)
		default:
			if strings.HasPrefix(p.key, "options.") {
				if err := parseOptions(&msg.options, strings.TrimPrefix(p.key, "options."), p.val); err != nil {
					return err
				}
				continue
			}
			return configAt(p.val, "unknown entry key %q", p.key)
		}
	}

	if msg.name == "" {
		if hasFields {
			return configAt(n, "global entry can not have fields")
		}
		for _, k := range msg.options.keys {
			raw.options.set(k, msg.options.values[k])
		}
		raw.enums = append(raw.enums, msg.enums...)
		raw.bits = append(raw.bits, msg.bits...)
		return nil
	}
	raw.messages = append(raw.messages, msg)
	return nil
}

func parseFields(n *yaml.Node) ([]*rawField, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, configAt(n, "fields must be a list")
	}
	fields := make([]*rawField, 0, len(n.Content))
	for _, item := range n.Content {
		f, err := parseField(item)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(n *yaml.Node) (*rawField, error) {
	kv, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	f := &rawField{line: n.Line}
	for _, p := range kv {
		switch p.key {
		case "name":
			if f.name, err = scalar(p.val); err != nil {
				return nil, err
			}
		case "type":
			if f.typ, err = scalar(p.val); err != nil {
				return nil, err
			}
		case "options":
			if err := parseOptions(&f.options, "", p.val); err != nil {
				return nil, err
			}
		case "enum":
			values, err := parseEnumValues(p.val)
			if err != nil {
				return nil, err
			}
			f.enum = &rawEnum{values: values}
		case "bits":
			bits, err := parseBitList(p.val)
			if err != nil {
				return nil, err
			}
			f.bits = &rawBits{fields: bits}
		default:
			if strings.HasPrefix(p.key, "options.") {
				if err := parseOptions(&f.options, strings.TrimPrefix(p.key, "options."), p.val); err != nil {
					return nil, err
				}
				continue
			}
			return nil, configAt(p.val, "unknown field key %q", p.key)
		}
	}
	if f.name == "" {
		return nil, configAt(n, "field without name")
	}
	if f.typ == "" {
		return nil, configAt(n, "field %q without type", f.name)
	}
	if f.enum != nil {
		f.enum.name, f.enum.typ = f.name, f.typ
	}
	if f.bits != nil {
		f.bits.name, f.bits.typ = f.name, f.typ
	}
	return f, nil
}

func parseEnums(n *yaml.Node) ([]*rawEnum, error) {
	kv, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	enums := make([]*rawEnum, 0, len(kv))
	for _, p := range kv {
		body, err := mappingPairs(p.val)
		if err != nil {
			return nil, err
		}
		e := &rawEnum{name: p.key}
		for _, b := range body {
			switch b.key {
			case "type":
				if e.typ, err = scalar(b.val); err != nil {
					return nil, err
				}
			case "enum":
				if e.values, err = parseEnumValues(b.val); err != nil {
					return nil, err
				}
			case "options":
				if err := parseOptions(&e.options, "", b.val); err != nil {
					return nil, err
				}
			default:
				return nil, configAt(b.val, "unknown enum key %q", b.key)
			}
		}
		enums = append(enums, e)
	}
	return enums, nil
}

func parseEnumValues(n *yaml.Node) ([]EnumValue, error) {
	kv, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	values := make([]EnumValue, 0, len(kv))
	for _, p := range kv {
		s, err := scalar(p.val)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, configAt(p.val, "invalid enum value %s: %q", p.key, s)
		}
		values = append(values, EnumValue{Name: p.key, Value: v})
	}
	return values, nil
}

func parseBitsSet(n *yaml.Node) ([]*rawBits, error) {
	kv, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	out := make([]*rawBits, 0, len(kv))
	for _, p := range kv {
		body, err := mappingPairs(p.val)
		if err != nil {
			return nil, err
		}
		b := &rawBits{name: p.key}
		for _, e := range body {
			switch e.key {
			case "type":
				if b.typ, err = scalar(e.val); err != nil {
					return nil, err
				}
			case "bits":
				if b.fields, err = parseBitList(e.val); err != nil {
					return nil, err
				}
			case "options":
				if err := parseOptions(&b.options, "", e.val); err != nil {
					return nil, err
				}
			default:
				return nil, configAt(e.val, "unknown bits key %q", e.key)
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// parseBitList accepts a list of names (one bit each, packed in order) or of
// {name, offset, size} mappings.
func parseBitList(n *yaml.Node) ([]rawBit, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, configAt(n, "bits must be a list")
	}
	bits := make([]rawBit, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind == yaml.ScalarNode {
			bits = append(bits, rawBit{name: item.Value, size: 1})
			continue
		}
		kv, err := mappingPairs(item)
		if err != nil {
			return nil, err
		}
		b := rawBit{size: 1}
		for _, p := range kv {
			s, err := scalar(p.val)
			if err != nil {
				return nil, err
			}
			switch p.key {
			case "name":
				b.name = s
			case "offset":
				v, err := strconv.ParseUint(s, 0, 8)
				if err != nil {
					return nil, configAt(p.val, "invalid bit offset %q", s)
				}
				off := uint(v)
				b.offset = &off
			case "size":
				v, err := strconv.ParseUint(s, 0, 8)
				if err != nil || v == 0 {
					return nil, configAt(p.val, "invalid bit size %q", s)
				}
				b.size = uint(v)
			default:
				return nil, configAt(p.val, "unknown bit key %q", p.key)
			}
		}
		if b.name == "" {
			return nil, configAt(item, "bit without name")
		}
		bits = append(bits, b)
	}
	return bits, nil
}

// parseOptions flattens nested option mappings into dotted keys.
func parseOptions(o *Options, prefix string, n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if prefix == "" {
			return configAt(n, "options must be a mapping")
		}
		o.set(prefix, n.Value)
		return nil
	}
	if n.Kind == yaml.SequenceNode {
		parts := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			s, err := scalar(item)
			if err != nil {
				return err
			}
			parts = append(parts, s)
		}
		o.set(prefix, strings.Join(parts, ","))
		return nil
	}
	kv, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, p := range kv {
		key := p.key
		if prefix != "" {
			key = prefix + "." + p.key
		}
		if err := parseOptions(o, key, p.val); err != nil {
			return err
		}
	}
	return nil
}

type pair struct {
	key string
	val *yaml.Node
}

func mappingPairs(n *yaml.Node) ([]pair, error) {
	if n.Kind != yaml.MappingNode {
		return nil, configAt(n, "expected a mapping")
	}
	out := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, pair{key: n.Content[i].Value, val: n.Content[i+1]})
	}
	return out, nil
}

func scalar(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", configAt(n, "expected a scalar value")
	}
	return n.Value, nil
}

func configAt(n *yaml.Node, format string, args ...any) error {
	return errspkg.Config(fmt.Sprintf("line %d", n.Line), format, args...)
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}
