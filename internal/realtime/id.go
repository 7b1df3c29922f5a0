package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a ULID used as a WebSocket session id. ULIDs
// are lexicographically sortable, which keeps them useful for tracing
// and log correlation.
func NewSessionID() string {
	return newULID()
}

func newULID() string {
	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand failing is effectively unreachable; degrade to a
		// zero-entropy ULID rather than panic.
		id, _ = ulid.New(ulid.Timestamp(now), zeroReader{})
	}
	return id.String()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
