// Package harvester defines the pluggable external-source Adapter
// contract and a name-keyed Registry that instantiates the adapters
// relevant to one entity.
package harvester

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/fingerprint"
	"github.com/jdp1ps/svp-harvester-go/internal/reconcile"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Raw is one unconverted record as produced by Adapter.Fetch, keyed the way
// fingerprint.Payload expects so Convert and HashKeys can share field names.
type Raw = fingerprint.Payload

// Adapter is the capability set of one external source: a component that
// knows whether it applies to an entity, can stream raw records for it, and
// can turn one raw record into a normalised Reference.
//
// Fetch must return a finite, non-restartable, lazy sequence: the returned
// channel is closed when the source is exhausted, and the adapter must
// suspend between sends when the consumer is not reading (backpressure via
// an unbuffered or small-buffered channel).
type Adapter interface {
	// Name is the harvester's identity, used as Reference.Harvester and as
	// the registry key.
	Name() string

	// Version is the adapter's semver. Bumping it invalidates every
	// previously stored hash from this harvester.
	Version() string

	// IsRelevant reports whether this adapter applies to entity, e.g.
	// because the entity carries an identifier type the adapter consumes.
	IsRelevant(entity types.Entity) bool

	// HashKeys returns the ordered field list participating in the content
	// digest for the given adapter version.
	HashKeys(version string) []fingerprint.HashKey

	// Fetch streams raw records for entity. The returned channel is closed
	// when exhausted or when ctx is cancelled; a non-nil error channel
	// receives at most one terminal error.
	Fetch(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error)

	// Convert turns one raw record into a normalised Reference. rc is the
	// per-conversion reconciliation context: adapters resolve
	// Contributor/Concept/Organization/Journal/Issue/Book/DocumentType
	// through it rather than talking to storage directly. Convert may
	// perform I/O and is allowed to return a classified error
	// (internal/errs) on transient/permanent failure or Reference
	// validation failure.
	Convert(ctx context.Context, raw Raw, rc *reconcile.Context) (types.Reference, error)
}

// SecondaryFetcher is implemented by adapters with a bounded secondary-source
// fan-out (e.g. IdRef's SUDOC enrichment). The orchestrator
// bounds concurrent calls to FetchSecondary via a semaphore sized by
// MAX_SUDOC_PARALLELISM; the adapter itself does not need to self-throttle.
type SecondaryFetcher interface {
	Adapter
	FetchSecondary(ctx context.Context, ids []string) (<-chan Raw, error)
}
