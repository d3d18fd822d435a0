package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

func newTestQueries(t *testing.T) *Queries {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	// a shared in-memory connection pool would give each connection its own
	// database; pin the pool to one connection so the schema created below
	// is visible to every query this test issues.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestInsertAndFindEntityByIdentifiers(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	e := types.Entity{
		Type:        types.EntityPerson,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Identifiers: []types.Identifier{{Type: types.IdentifierIdRef, Value: "123"}},
	}
	inserted, err := q.InsertEntity(ctx, e)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted.ID == "" {
		t.Fatal("expected a generated ID")
	}

	found, err := q.FindEntityByIdentifiers(ctx, e.Identifiers)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != inserted.ID {
		t.Fatalf("expected to find %v, got %v", inserted.ID, found)
	}
}

func TestUpdateEntityExtendsIdentifiers(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	inserted, err := q.InsertEntity(ctx, types.Entity{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Identifiers: []types.Identifier{{Type: types.IdentifierIdRef, Value: "456"}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	inserted.Identifiers = append(inserted.Identifiers, types.Identifier{Type: types.IdentifierOrcid, Value: "0000-0003"})
	if err := q.UpdateEntity(ctx, inserted); err != nil {
		t.Fatalf("update: %v", err)
	}

	found, err := q.FindEntityByIdentifiers(ctx, []types.Identifier{{Type: types.IdentifierOrcid, Value: "0000-0003"}})
	if err != nil {
		t.Fatalf("find by new identifier: %v", err)
	}
	if found == nil || found.ID != inserted.ID {
		t.Fatalf("expected the extension to resolve to the same row, got %+v", found)
	}
	if len(found.Identifiers) != 2 {
		t.Fatalf("expected both identifiers on the row, got %+v", found.Identifiers)
	}
}

func TestInsertEntityConflictIsClassified(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	ids := []types.Identifier{{Type: types.IdentifierOrcid, Value: "0000-0001"}}
	if _, err := q.InsertEntity(ctx, types.Entity{FirstName: "A", LastName: "B", Identifiers: ids}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := q.InsertEntity(ctx, types.Entity{FirstName: "C", LastName: "D", Identifiers: ids})
	if err == nil {
		t.Fatal("expected a conflict on the duplicate identifier")
	}
	if !errs.IsConflict(err) {
		t.Fatalf("expected IsConflict, got %v", err)
	}
}

func TestContributorNameDriftRoundTrip(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	c := types.Contributor{Source: "hal", SourceIdentifier: "hal-1", Name: "J. Doe"}
	inserted, err := q.InsertContributor(ctx, c)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	inserted.NameVariants = []string{"J. Doe"}
	inserted.Name = "Jane Doe"
	if err := q.UpdateContributor(ctx, inserted); err != nil {
		t.Fatalf("update: %v", err)
	}

	found, err := q.FindContributor(ctx, c.Key())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Name != "Jane Doe" || len(found.NameVariants) != 1 || found.NameVariants[0] != "J. Doe" {
		t.Fatalf("unexpected contributor after update: %+v", found)
	}
}

func TestConceptFindMissingReturnsNil(t *testing.T) {
	q := newTestQueries(t)
	found, err := q.FindConcept(context.Background(), "uri:https://example.org/concept/1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Fatalf("expected no concept, got %+v", found)
	}
}

func TestSourceEntityInsertFindUpdate(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	e := types.SourceEntity{Source: "hal", SourceIdentifier: "journal-1", Name: "Journal of Tests"}
	inserted, err := q.InsertSourceEntity(ctx, "journals", e)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	found, err := q.FindSourceEntity(ctx, "journals", e.Key())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != inserted.ID {
		t.Fatalf("expected to find %v, got %v", inserted.ID, found)
	}

	inserted.Name = "Journal of Tests, Revised"
	if err := q.UpdateSourceEntity(ctx, "journals", inserted); err != nil {
		t.Fatalf("update: %v", err)
	}
	found, err = q.FindSourceEntity(ctx, "journals", e.Key())
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if found.Name != "Journal of Tests, Revised" {
		t.Fatalf("update did not persist: %+v", found)
	}
}

func TestReferenceVersioningAndLastReference(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	ref := types.Reference{
		Harvester:        "hal",
		SourceIdentifier: "hal-doc-1",
		Hash:             "h1",
		Version:          1,
		Titles:           []string{"A title"},
		Subtitles:        []string{},
		Abstracts:        []string{},
		Subjects:         []types.Concept{},
		Contributions:    []types.Contribution{},
		DocumentTypes:    []types.DocumentType{},
		Identifiers:      []types.Identifier{},
		Manifestations:   []types.Manifestation{},
		Issued:           &now,
	}
	if _, err := q.PersistReference(ctx, ref); err != nil {
		t.Fatalf("persist v1: %v", err)
	}

	ref.ID = ""
	ref.Version = 2
	ref.Hash = "h2"
	ref.Titles = []string{"A title, revised"}
	if _, err := q.PersistReference(ctx, ref); err != nil {
		t.Fatalf("persist v2: %v", err)
	}

	last, err := q.LastReference(ctx, "hal", "hal-doc-1")
	if err != nil {
		t.Fatalf("last reference: %v", err)
	}
	if last == nil || last.Version != 2 || last.Hash != "h2" {
		t.Fatalf("expected version 2/h2, got %+v", last)
	}
	if len(last.Titles) != 1 || last.Titles[0] != "A title, revised" {
		t.Fatalf("unexpected titles: %+v", last.Titles)
	}
	if last.Issued == nil || !last.Issued.Equal(now) {
		t.Fatalf("expected issued %v, got %v", now, last.Issued)
	}
}

func TestEventIdempotency(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	emitted, err := q.EventAlreadyEmitted(ctx, "h-1", "src-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if emitted {
		t.Fatal("expected not yet emitted")
	}

	if _, err := q.PersistEvent(ctx, "src-1", types.ReferenceEvent{HarvestingID: "h-1", ReferenceID: "ref-1", Type: types.EventCreated}); err != nil {
		t.Fatalf("persist event: %v", err)
	}

	emitted, err = q.EventAlreadyEmitted(ctx, "h-1", "src-1")
	if err != nil {
		t.Fatalf("check after persist: %v", err)
	}
	if !emitted {
		t.Fatal("expected emitted after persist")
	}
}

func TestRetrievalAndHarvestingLifecycle(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	r, err := q.CreateRetrieval(ctx, types.Retrieval{EntityID: "entity-1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("create retrieval: %v", err)
	}

	h, err := q.CreateHarvesting(ctx, types.Harvesting{RetrievalID: r.ID, Harvester: "hal", State: types.HarvestingRunning, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("create harvesting: %v", err)
	}

	h.State = types.HarvestingCompleted
	h.AddError("transient_external", "timed out once", time.Now())
	if err := q.UpdateHarvesting(ctx, h); err != nil {
		t.Fatalf("update harvesting: %v", err)
	}
}
