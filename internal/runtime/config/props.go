package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Props is an ordered, dotted key/value tree. Channels expose their live
// configuration and open parameters to scripts through it.
type Props struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]string
}

// NewProps builds Props from alternating key/value pairs.
func NewProps(pairs ...string) *Props {
	p := &Props{values: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Set(pairs[i], pairs[i+1])
	}
	return p
}

// PropsFromMap builds Props with keys in sorted order.
func PropsFromMap(m map[string]string) *Props {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := NewProps()
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

func (p *Props) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Props) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetOr returns the value of key or def when it is missing.
func (p *Props) GetOr(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

func (p *Props) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// DeletePrefix removes key and every key below it.
func (p *Props) DeletePrefix(prefix string) {
	for _, k := range p.Keys() {
		if k == prefix || strings.HasPrefix(k, prefix+".") {
			p.Delete(k)
		}
	}
}

// Keys returns keys in insertion order.
func (p *Props) Keys() []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.keys...)
}

func (p *Props) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

// Sub returns a copy of the keys below prefix with the prefix stripped.
func (p *Props) Sub(prefix string) *Props {
	out := NewProps()
	if p == nil {
		return out
	}
	want := prefix + "."
	for _, k := range p.Keys() {
		if strings.HasPrefix(k, want) {
			v, _ := p.Get(k)
			out.Set(strings.TrimPrefix(k, want), v)
		}
	}
	return out
}

// Merge copies every key of o into p below prefix. An empty prefix merges at
// the top level.
func (p *Props) Merge(prefix string, o *Props) {
	for _, k := range o.Keys() {
		v, _ := o.Get(k)
		if prefix != "" {
			k = prefix + "." + k
		}
		p.Set(k, v)
	}
}

func (p *Props) Clone() *Props {
	out := NewProps()
	out.Merge("", p)
	return out
}

// Map returns a flat copy.
func (p *Props) Map() map[string]string {
	out := make(map[string]string, p.Len())
	for _, k := range p.Keys() {
		out[k], _ = p.Get(k)
	}
	return out
}

// Tree returns the nested form: dotted keys become nested maps. A key that is
// both a value and a prefix keeps its value under the empty key.
func (p *Props) Tree() map[string]any {
	root := make(map[string]any)
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		parts := strings.Split(k, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				if old, isStr := node[part].(string); isStr {
					next[""] = old
				}
				node[part] = next
			}
			node = next
		}
		last := parts[len(parts)-1]
		if sub, ok := node[last].(map[string]any); ok {
			sub[""] = v
			continue
		}
		node[last] = v
	}
	return root
}

// Bool parses a boolean value in the forms accepted by channel URLs.
func (p *Props) Bool(key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	return ParseBool(v)
}

// ParseBool accepts yes/no, true/false, on/off and 1/0.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// List returns the values of key.0, key.1, ... or of key.* in insertion
// order when the suffixes are not numeric.
func (p *Props) List(prefix string) []string {
	sub := p.Sub(prefix)
	out := make([]string, 0, sub.Len())
	for _, k := range sub.Keys() {
		if strings.Contains(k, ".") {
			continue
		}
		v, _ := sub.Get(k)
		out = append(out, v)
	}
	return out
}

// String renders the props as a channel URL parameter list.
func (p *Props) String() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(';')
		}
		v, _ := p.Get(k)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
