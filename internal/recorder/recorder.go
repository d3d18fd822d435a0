package recorder

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Recorder diffs one Harvesting's stream. A new Recorder must be created
// per (Retrieval, harvester) run since it tracks which source identifiers
// were seen, to compute `deleted` events at the end of the stream.
type Recorder struct {
	store        Store
	harvester    string
	harvestingID string

	seen map[string]bool
}

func New(store Store, harvester, harvestingID string) *Recorder {
	return &Recorder{store: store, harvester: harvester, harvestingID: harvestingID, seen: make(map[string]bool)}
}

// Record classifies and persists one incoming reference. It is
// idempotent per (harvestingID, source_identifier): a redelivered input
// returns a nil event and a nil error, without persisting or emitting
// again.
func (r *Recorder) Record(ctx context.Context, newRef types.Reference) (*types.ReferenceEvent, error) {
	if err := newRef.Validate(); err != nil {
		return nil, errs.New(errs.ReferenceValidation, "record reference", err)
	}
	r.seen[newRef.SourceIdentifier] = true

	already, err := r.store.EventAlreadyEmitted(ctx, r.harvestingID, newRef.SourceIdentifier)
	if err != nil {
		return nil, errs.New(errs.DatabaseConnection, "check emitted event", err)
	}
	if already {
		return nil, nil
	}

	old, err := r.store.LastReference(ctx, r.harvester, newRef.SourceIdentifier)
	if err != nil {
		return nil, errs.New(errs.DatabaseConnection, "lookup last reference", err)
	}

	var event types.EventType
	var row types.Reference

	switch {
	case old == nil:
		newRef.Version = 1
		persisted, perr := r.store.PersistReference(ctx, newRef)
		if perr != nil {
			return nil, errs.New(errs.DatabaseConnection, "persist reference", perr)
		}
		event, row = types.EventCreated, persisted

	case old.Hash == newRef.Hash && !newRef.Enhanced:
		event, row = types.EventUnchanged, *old

	case old.Hash == newRef.Hash && newRef.Enhanced:
		newRef.Version = old.Version + 1
		persisted, perr := r.store.PersistReference(ctx, newRef)
		if perr != nil {
			return nil, errs.New(errs.DatabaseConnection, "persist enhanced reference", perr)
		}
		event, row = types.EventUnchanged, persisted

	default:
		newRef.Version = old.Version + 1
		persisted, perr := r.store.PersistReference(ctx, newRef)
		if perr != nil {
			return nil, errs.New(errs.DatabaseConnection, "persist updated reference", perr)
		}
		event, row = types.EventUpdated, persisted
	}

	ev := types.ReferenceEvent{HarvestingID: r.harvestingID, ReferenceID: row.ID, Type: event, Enhanced: newRef.Enhanced && event == types.EventUnchanged}
	persistedEvent, err := r.store.PersistEvent(ctx, newRef.SourceIdentifier, ev)
	if err != nil {
		return nil, errs.New(errs.DatabaseConnection, "persist event", err)
	}
	persistedEvent.Reference = &row
	return &persistedEvent, nil
}

// Finalize computes `deleted` events for every source_identifier present in
// a previous harvest but absent from the stream just processed. Call once after the adapter's fetch loop has been fully drained.
func (r *Recorder) Finalize(ctx context.Context) ([]types.ReferenceEvent, error) {
	prior, err := r.store.SourceIdentifiersSeenInPreviousHarvest(ctx, r.harvester)
	if err != nil {
		return nil, errs.New(errs.DatabaseConnection, "list previous source identifiers", err)
	}

	var events []types.ReferenceEvent
	for _, sourceID := range prior {
		if r.seen[sourceID] {
			continue
		}
		already, err := r.store.EventAlreadyEmitted(ctx, r.harvestingID, sourceID)
		if err != nil {
			return nil, errs.New(errs.DatabaseConnection, "check emitted deletion event", err)
		}
		if already {
			continue
		}
		old, err := r.store.LastReference(ctx, r.harvester, sourceID)
		if err != nil {
			return nil, errs.New(errs.DatabaseConnection, "lookup reference for deletion", err)
		}
		if old == nil {
			continue
		}
		ev := types.ReferenceEvent{HarvestingID: r.harvestingID, ReferenceID: old.ID, Type: types.EventDeleted}
		persisted, err := r.store.PersistEvent(ctx, sourceID, ev)
		if err != nil {
			return nil, errs.New(errs.DatabaseConnection, "persist deletion event", err)
		}
		persisted.Reference = old
		events = append(events, persisted)
	}
	return events, nil
}
