// Package protocol implements the typed JSON envelope exchanged between
// chat clients and the realtime core: parsing, serialization, and the
// ordered payload mapping that sits inside every envelope.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Kind tags a Value with the concrete type it holds, mirroring the sum
// type vix::json::token from the C++ original this protocol was ported
// from (null, bool, int64, float64, string, array, mapping).
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

// Value is a tagged variant over the payload value space defined in
// spec §3: {null, bool, int64, float64, string, array<Value>, Map}.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Arr   []Value
	Map   *Map
}

func Null() Value                 { return Value{Kind: KindNull} }
func FromBool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func FromInt(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func FromFloat(f float64) Value     { return Value{Kind: KindFloat, Float: f} }
func FromString(s string) Value    { return Value{Kind: KindString, Str: s} }
func FromArray(a []Value) Value    { return Value{Kind: KindArray, Arr: a} }
func FromMap(m *Map) Value         { return Value{Kind: KindMap, Map: m} }

// entry is one insertion-ordered key/value pair in a Map.
type entry struct {
	key string
	val Value
}

// Map is an insertion-order-preserving string-keyed mapping. Duplicate
// keys are retained in insertion order on the wire (spec §3); Get/Set
// implement last-wins lookup semantics over the retained entries.
type Map struct {
	entries []entry
	index   map[string]int // key -> last entry index, for O(1) last-wins lookup
}

// NewMap constructs an empty ordered map.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Set appends a key/value pair. If the key already exists, the prior
// entry is left in place (insertion order is preserved per spec §3)
// but the lookup index is repointed so Get returns the latest value.
func (m *Map) Set(key string, v Value) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	m.entries = append(m.entries, entry{key: key, val: v})
	m.index[key] = len(m.entries) - 1
}

// Get returns the last-written value for key, last-wins on duplicates.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil || m.index == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.entries[i].val, true
}

// GetString is a convenience accessor mirroring JsonMessage::get_string
// from the C++ original: returns "" if the key is missing or not a string.
func (m *Map) GetString(key string) string {
	v, ok := m.Get(key)
	if !ok || v.Kind != KindString {
		return ""
	}
	return v.Str
}

// Len reports the number of retained entries (including duplicates).
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns insertion-ordered keys, including duplicates.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key
	}
	return out
}

// MarshalJSON renders the map as a JSON object, keys in insertion
// order. Go's encoding/json silently keeps the last value for a
// duplicate key when decoding the result back, which matches the
// documented last-wins lookup semantics.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := e.val.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into an ordered Map, preserving
// the source key order (including duplicates) via json.Decoder's token
// stream rather than map[string]any, which Go would otherwise collapse.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}

	*m = Map{index: make(map[string]int)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		m.Set(key, v)
	}
	// Consume closing '}'.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON renders a single tagged Value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, el := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := el.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		if v.Map == nil {
			return []byte("null"), nil
		}
		return v.Map.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// decodeValue decodes one JSON value into the tagged Value sum type,
// splitting numbers into int64 vs float64 by literal shape (an integer
// literal with no '.'/'e' decodes as KindInt) per spec §4.1.
func decodeValue(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Null(), nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{}, err
		}
		return FromString(s), nil
	case '{':
		m := NewMap()
		if err := m.UnmarshalJSON(trimmed); err != nil {
			return Value{}, err
		}
		return FromMap(m), nil
	case '[':
		var rawItems []json.RawMessage
		if err := json.Unmarshal(trimmed, &rawItems); err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, len(rawItems))
		for _, r := range rawItems {
			v, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return FromArray(items), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Value{}, err
		}
		return FromBool(b), nil
	default:
		if isIntegerLiteral(trimmed) {
			var i int64
			if err := json.Unmarshal(trimmed, &i); err == nil {
				return FromInt(i), nil
			}
		}
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return Value{}, err
		}
		return FromFloat(f), nil
	}
}

// isIntegerLiteral reports whether a numeric JSON literal has no
// fractional or exponent part, so it can round-trip as an int64.
func isIntegerLiteral(b []byte) bool {
	for _, c := range b {
		if c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}
