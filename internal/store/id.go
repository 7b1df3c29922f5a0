package store

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGen generates ULIDs with a monotonic entropy source so that two
// Append calls within the same millisecond still produce strictly
// increasing IDs. ulid.MonotonicEntropy is not safe for concurrent
// use, so New must not be called concurrently: MemoryStore calls it
// under its mutex, and SQLiteStore calls it inside a transaction on
// its single database connection. Plain ulid.New with crypto/rand
// only guarantees ordering across distinct milliseconds.
type idGen struct {
	entropy *ulid.MonotonicEntropy
}

func newIDGen() *idGen {
	return &idGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGen) New(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		// Effectively unreachable with crypto/rand; fall back to a
		// non-monotonic ID rather than block Append.
		id, _ = ulid.New(ulid.Timestamp(now), rand.Reader)
	}
	return id.String()
}
