package protocol

import (
	"bytes"
	"encoding/json"
)

// Kind tags ("event", "system", "error", "history", ...) used on the
// envelope's own Kind field — distinct from the Value Kind type
// declared in value.go.
const (
	KindEvent   = "event"
	KindSystem  = "system"
	KindErrorTag = "error"
	KindHistory = "history"
)

// Envelope is the transport unit defined in spec §3: a typed JSON
// message with a handful of optional routing/identity fields and a
// required Type plus an ordered payload mapping.
type Envelope struct {
	ID      string
	Kind    string
	TS      string
	Room    string
	Type    string
	Payload *Map
}

// envelopeWire is the exact JSON shape on the wire; Envelope is kept as
// a separate Go type so callers never have to think about omitempty
// semantics or json.RawMessage plumbing.
type envelopeWire struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	TS      string `json:"ts,omitempty"`
	Room    string `json:"room,omitempty"`
	Type    string `json:"type"`
	Payload *Map   `json:"payload"`
}

// Parse accepts a UTF-8 string and returns an Envelope iff the input is
// a JSON object whose "type" field is a non-empty string (spec §4.1).
// Malformed JSON or a missing/empty type yields (Envelope{}, false);
// Parse never panics and never returns an error to the caller.
func Parse(text string) (Envelope, bool) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}

	var w envelopeWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Envelope{}, false
	}
	if w.Type == "" {
		return Envelope{}, false
	}
	if w.Payload == nil {
		w.Payload = NewMap()
	}

	return Envelope{
		ID:      w.ID,
		Kind:    w.Kind,
		TS:      w.TS,
		Room:    w.Room,
		Type:    w.Type,
		Payload: w.Payload,
	}, true
}

// Serialize emits the JSON object form of an Envelope. id/kind/ts/room
// are omitted when empty; type and payload are always present, even
// when the payload is empty (serializes as "{}").
func Serialize(e Envelope) string {
	payload := e.Payload
	if payload == nil {
		payload = NewMap()
	}
	w := envelopeWire{
		ID:      e.ID,
		Kind:    e.Kind,
		TS:      e.TS,
		Room:    e.Room,
		Type:    e.Type,
		Payload: payload,
	}
	b, err := json.Marshal(w)
	if err != nil {
		// Type and Payload are always well-formed by construction
		// (Payload.MarshalJSON cannot fail on values built via the
		// FromXxx constructors), so this path is unreachable in
		// practice; return an empty envelope shell rather than panic.
		return `{"type":"","payload":{}}`
	}
	return string(b)
}
