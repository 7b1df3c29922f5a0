package protocol

import "testing"

func TestParse_RequiresNonEmptyType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid minimal", `{"type":"chat.message","payload":{}}`, true},
		{"missing type", `{"payload":{}}`, false},
		{"empty type", `{"type":"","payload":{}}`, false},
		{"not an object", `"hello"`, false},
		{"malformed json", `{"type":`, false},
		{"empty string", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Parse(tc.in)
			if ok != tc.ok {
				t.Fatalf("Parse(%q) ok=%v, want %v", tc.in, ok, tc.ok)
			}
		})
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{"", "{", "[]", "null", "123", `{"type":1}`, "\x00\x01garbage"}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Parse(%q) panicked: %v", in, r)
				}
			}()
			Parse(in)
		}()
	}
}

func TestSerialize_OmitsEmptyOptionalFields(t *testing.T) {
	out := Serialize(Envelope{Type: "chat.message", Payload: NewMap()})
	want := `{"type":"chat.message","payload":{}}`
	if out != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestSerialize_IncludesOptionalFieldsWhenPresent(t *testing.T) {
	p := NewMap()
	p.Set("user", FromString("alice"))
	p.Set("text", FromString("hi"))

	out := Serialize(Envelope{
		ID:      "id-1",
		Kind:    "event",
		TS:      "2025-01-01T00:00:00Z",
		Room:    "africa",
		Type:    "chat.message",
		Payload: p,
	})

	env, ok := Parse(out)
	if !ok {
		t.Fatalf("re-parse failed: %s", out)
	}
	if env.ID != "id-1" || env.Kind != "event" || env.TS != "2025-01-01T00:00:00Z" || env.Room != "africa" {
		t.Fatalf("round-trip lost fields: %+v", env)
	}
}

func TestRoundTrip_PayloadPreservesKeyOrderAndTypes(t *testing.T) {
	p := NewMap()
	p.Set("b", FromInt(2))
	p.Set("a", FromString("first"))
	p.Set("flag", FromBool(true))
	p.Set("ratio", FromFloat(1.5))
	p.Set("nothing", Null())
	p.Set("list", FromArray([]Value{FromInt(1), FromString("x")}))
	nested := NewMap()
	nested.Set("inner", FromString("v"))
	p.Set("obj", FromMap(nested))

	env := Envelope{Type: "chat.message", Payload: p}
	out := Serialize(env)

	got, ok := Parse(out)
	if !ok {
		t.Fatalf("parse failed: %s", out)
	}

	if got.Payload.Keys()[0] != "b" || got.Payload.Keys()[1] != "a" {
		t.Fatalf("key order not preserved: %v", got.Payload.Keys())
	}

	v, _ := got.Payload.Get("b")
	if v.Kind != KindInt || v.Int != 2 {
		t.Fatalf("int round-trip failed: %+v", v)
	}
	v, _ = got.Payload.Get("ratio")
	if v.Kind != KindFloat || v.Float != 1.5 {
		t.Fatalf("float round-trip failed: %+v", v)
	}
	v, _ = got.Payload.Get("flag")
	if v.Kind != KindBool || !v.Bool {
		t.Fatalf("bool round-trip failed: %+v", v)
	}
	v, _ = got.Payload.Get("nothing")
	if v.Kind != KindNull {
		t.Fatalf("null round-trip failed: %+v", v)
	}
	v, _ = got.Payload.Get("list")
	if v.Kind != KindArray || len(v.Arr) != 2 {
		t.Fatalf("array round-trip failed: %+v", v)
	}
	v, _ = got.Payload.Get("obj")
	if v.Kind != KindMap || v.Map.GetString("inner") != "v" {
		t.Fatalf("nested map round-trip failed: %+v", v)
	}
}

func TestMap_DuplicateKeysLastWinsLookupInsertionOrderPreserved(t *testing.T) {
	m := NewMap()
	m.Set("k", FromString("first"))
	m.Set("k", FromString("second"))

	if got := m.GetString("k"); got != "second" {
		t.Fatalf("last-wins lookup: got %q, want %q", got, "second")
	}
	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "k" || keys[1] != "k" {
		t.Fatalf("insertion order not preserved for duplicates: %v", keys)
	}
}
