// Package recorder implements the reference recorder: compare an
// incoming normalised Reference against the last stored version for the
// same (harvester, source_identifier), classify the diff, persist an
// append-only new version when needed, and emit an at-most-once
// ReferenceEvent.
package recorder

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Store is the minimal persistence contract the recorder needs.
type Store interface {
	// LastReference returns the most recent stored reference for
	// (harvester, sourceIdentifier), or nil if none exists.
	LastReference(ctx context.Context, harvester, sourceIdentifier string) (*types.Reference, error)

	// PersistReference appends a new reference version. ref.Version must
	// already be set by the caller (old.Version+1, or 1 for a new row).
	PersistReference(ctx context.Context, ref types.Reference) (types.Reference, error)

	// SourceIdentifiersSeenInPreviousHarvest lists every source_identifier
	// stored (and not already deleted) for harvester across all prior
	// harvests, used to detect references absent from the current stream.
	SourceIdentifiersSeenInPreviousHarvest(ctx context.Context, harvester string) ([]string, error)

	// EventAlreadyEmitted reports whether a ReferenceEvent was already
	// recorded for (harvestingID, sourceIdentifier), making Record
	// idempotent under message redelivery.
	EventAlreadyEmitted(ctx context.Context, harvestingID, sourceIdentifier string) (bool, error)

	// PersistEvent records ev and marks (harvestingID, sourceIdentifier) as
	// emitted, atomically with respect to EventAlreadyEmitted.
	PersistEvent(ctx context.Context, sourceIdentifier string, ev types.ReferenceEvent) (types.ReferenceEvent, error)
}
