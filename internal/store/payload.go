package store

import (
	"encoding/json"

	"chatcore/internal/protocol"
)

func marshalPayload(m *protocol.Map) (string, error) {
	if m == nil {
		m = protocol.NewMap()
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalPayload(s string) (*protocol.Map, error) {
	m := protocol.NewMap()
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), m); err != nil {
		return nil, err
	}
	return m, nil
}
