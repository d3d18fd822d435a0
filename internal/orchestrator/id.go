package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
)

// newID generates an opaque, unique identifier for Retrieval/Harvesting
// rows. The core treats IDs as opaque strings; a storage backend
// is free to use its own primary key instead, but the orchestrator must be
// able to hand one out before any row is durably persisted (e.g. to embed
// in events published before the DB round trip settles).
func newID(prefix string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return prefix + "-" + hex.EncodeToString(b[:])
}
