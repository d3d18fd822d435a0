// Package fingerprint computes the deterministic content digest used to
// detect whether a normalised reference changed between two harvests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// HashKey names one field of a raw external payload that participates in
// the content digest. Ordered false means list values are sorted before
// concatenation so field reordering that carries no semantic meaning does
// not change the hash; Ordered true preserves the adapter's original order.
type HashKey struct {
	Name    string
	Ordered bool
}

// separator joins key values inside the digest input. It must never appear
// in an extracted value's stringification in a way that creates ambiguity
// between two different (keys, values) pairs producing the same digest
// input; the ASCII unit-separator control character (0x1f) makes that
// collision practically impossible for the free-text bibliographic fields
// this hashes.
const separator = "\x1f"

// Payload is the raw, adapter-specific record whose participating fields
// are extracted by key name. Values may be strings, []string, or anything
// whose fmt.Sprintf("%v", ...) is stable and meaningful; adapters are
// expected to pass pre-shaped string/[]string values.
type Payload map[string]any

// extract returns the stringified form of key's value, or "" if absent:
// a missing field hashes the same as an explicitly empty one.
func extract(p Payload, key HashKey) string {
	v, ok := p[key.Name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []string:
		items := append([]string(nil), val...)
		if !key.Ordered {
			sort.Strings(items)
		}
		return strings.Join(items, "\x1e")
	case []any:
		// JSON-decoded payloads surface lists as []any; stringify each
		// element so they sort and join the same way []string does.
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = fmt.Sprintf("%v", item)
		}
		if !key.Ordered {
			sort.Strings(items)
		}
		return strings.Join(items, "\x1e")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Hash computes the versioned SHA-256 content digest for payload, using
// only the fields named in keys. The harvester version is folded into the
// prefix so bumping an adapter's Version() invalidates every previously
// stored hash from that adapter.
func Hash(harvester, version string, keys []HashKey, payload Payload) string {
	var b strings.Builder
	b.WriteString(harvester)
	b.WriteString(separator)
	b.WriteString(version)
	for _, key := range keys {
		b.WriteString(separator)
		b.WriteString(extract(payload, key))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
