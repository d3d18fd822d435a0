package recorder

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

type fakeStore struct {
	byKey       map[string]*types.Reference // harvester|sourceIdentifier -> latest
	emitted     map[string]bool             // harvestingID|sourceIdentifier
	nextRefID   int
	nextEventID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]*types.Reference), emitted: make(map[string]bool)}
}

func refKey(harvester, sourceID string) string { return harvester + "|" + sourceID }
func emitKey(harvestingID, sourceID string) string { return harvestingID + "|" + sourceID }

func (f *fakeStore) LastReference(ctx context.Context, harvester, sourceIdentifier string) (*types.Reference, error) {
	if r, ok := f.byKey[refKey(harvester, sourceIdentifier)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) PersistReference(ctx context.Context, ref types.Reference) (types.Reference, error) {
	f.nextRefID++
	ref.ID = fmt.Sprintf("ref-%d", f.nextRefID)
	cp := ref
	f.byKey[refKey(ref.Harvester, ref.SourceIdentifier)] = &cp
	return ref, nil
}

func (f *fakeStore) SourceIdentifiersSeenInPreviousHarvest(ctx context.Context, harvester string) ([]string, error) {
	var out []string
	prefix := harvester + "|"
	for k, v := range f.byKey {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v.SourceIdentifier)
		}
	}
	return out, nil
}

func (f *fakeStore) EventAlreadyEmitted(ctx context.Context, harvestingID, sourceIdentifier string) (bool, error) {
	return f.emitted[emitKey(harvestingID, sourceIdentifier)], nil
}

func (f *fakeStore) PersistEvent(ctx context.Context, sourceIdentifier string, ev types.ReferenceEvent) (types.ReferenceEvent, error) {
	f.nextEventID++
	ev.ID = fmt.Sprintf("evt-%d", f.nextEventID)
	f.emitted[emitKey(ev.HarvestingID, sourceIdentifier)] = true
	return ev, nil
}

func baseRef(sourceID, hash string) types.Reference {
	return types.Reference{
		Harvester:        "hal",
		SourceIdentifier: sourceID,
		Hash:             hash,
		Titles:           []string{"A Title"},
		Subtitles:        []string{},
		Abstracts:        []string{},
		Subjects:         []types.Concept{},
		DocumentTypes:    []types.DocumentType{},
		Contributions:    []types.Contribution{},
	}
}

func TestRecordNewReferenceEmitsCreated(t *testing.T) {
	store := newFakeStore()
	r := New(store, "hal", "harvesting-1")

	ev, err := r.Record(context.Background(), baseRef("doc-1", "H1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.NotNil(t, ev)
	assert.Equal(t, types.EventCreated, ev.Type)
	assert.Equal(t, 1, store.byKey["hal|doc-1"].Version)
	if assert.NotNil(t, ev.Reference) {
		assert.Equal(t, 1, ev.Reference.Version)
	}
}

func TestRecordUnchangedDoesNotPersistNewRow(t *testing.T) {
	store := newFakeStore()
	r1 := New(store, "hal", "harvesting-1")
	if _, err := r1.Record(context.Background(), baseRef("doc-1", "H1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r2 := New(store, "hal", "harvesting-2")
	ev, err := r2.Record(context.Background(), baseRef("doc-1", "H1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Type != types.EventUnchanged {
		t.Fatalf("expected unchanged event, got %+v", ev)
	}
	if store.byKey["hal|doc-1"].Version != 1 {
		t.Fatalf("unchanged must not create a new version, got %d", store.byKey["hal|doc-1"].Version)
	}
}

func TestRecordEnhancedPersistsNewVersionButEmitsUnchanged(t *testing.T) {
	store := newFakeStore()
	r1 := New(store, "hal", "harvesting-1")
	if _, err := r1.Record(context.Background(), baseRef("doc-1", "H1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enhanced := baseRef("doc-1", "H1")
	enhanced.Enhanced = true
	r2 := New(store, "hal", "harvesting-2")
	ev, err := r2.Record(context.Background(), enhanced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Type != types.EventUnchanged || !ev.Enhanced {
		t.Fatalf("expected enhanced-unchanged event, got %+v", ev)
	}
	if store.byKey["hal|doc-1"].Version != 2 {
		t.Fatalf("expected a new version to be persisted, got %d", store.byKey["hal|doc-1"].Version)
	}
}

func TestRecordUpdatedPersistsNewVersion(t *testing.T) {
	store := newFakeStore()
	r1 := New(store, "hal", "harvesting-1")
	if _, err := r1.Record(context.Background(), baseRef("doc-1", "H1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r2 := New(store, "hal", "harvesting-2")
	ev, err := r2.Record(context.Background(), baseRef("doc-1", "H2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Type != types.EventUpdated {
		t.Fatalf("expected updated event, got %+v", ev)
	}
	if store.byKey["hal|doc-1"].Version != 2 {
		t.Fatalf("expected version 2, got %d", store.byKey["hal|doc-1"].Version)
	}
}

func TestFinalizeEmitsDeletedForMissingReferences(t *testing.T) {
	store := newFakeStore()
	r1 := New(store, "hal", "harvesting-1")
	if _, err := r1.Record(context.Background(), baseRef("doc-1", "H1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Next harvest yields nothing for doc-1.
	r2 := New(store, "hal", "harvesting-2")
	events, err := r2.Finalize(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Type != types.EventDeleted {
		t.Fatalf("expected one deleted event, got %+v", events)
	}
}

func TestRecordIdempotentUnderRedelivery(t *testing.T) {
	store := newFakeStore()
	r := New(store, "hal", "harvesting-1")

	first, err := r.Record(context.Background(), baseRef("doc-1", "H1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Record(context.Background(), baseRef("doc-1", "H1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Fatalf("redelivered record must not emit a duplicate event, got %+v", second)
	}
	if first == nil {
		t.Fatalf("first record must emit an event")
	}
}
