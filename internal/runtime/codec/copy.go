package codec

import (
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Copy decodes the top level fields of m into a map. Scalars are
// independent of the source buffer, nested messages and arrays stay views.
func Copy(m *Message) (map[string]any, error) {
	out := make(map[string]any, len(m.desc.Fields))
	err := m.Range(func(f *scheme.Field, v any) error {
		out[f.Name] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeepCopy materialises v recursively: messages become maps, arrays become
// slices. Every nested structure is validated on the way.
func DeepCopy(v any) (any, error) {
	switch x := v.(type) {
	case *Message:
		out := make(map[string]any, len(x.desc.Fields))
		err := x.Range(func(f *scheme.Field, fv any) error {
			c, err := DeepCopy(fv)
			if err != nil {
				return err
			}
			out[f.Name] = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case *Array:
		out := make([]any, x.Len())
		for i := range out {
			item, err := x.Index(i)
			if err != nil {
				return nil, err
			}
			if out[i], err = DeepCopy(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			c, err := DeepCopy(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			c, err := DeepCopy(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case []byte:
		return append([]byte(nil), x...), nil
	}
	return v, nil
}

// Validate decodes every field of data, including everything reachable
// through arrays and pointers.
func (c *Codec) Validate(desc *scheme.Message, data []byte) error {
	m, err := c.Decode(desc, data)
	if err != nil {
		return err
	}
	_, err = DeepCopy(m)
	return err
}

// PMapCheck reports whether the named field of m is present.
func PMapCheck(m *Message, name string) (bool, error) {
	return m.Has(name)
}
