package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// fakeStore is an in-memory Store used to exercise the reconciliation
// laws without a real database. conflictOnceKeys lets tests simulate a
// concurrent inserter winning the race.
type fakeStore struct {
	mu sync.Mutex

	entitiesByKey map[string]types.Entity
	nextEntityID  int

	contribsByKey map[string]types.Contributor
	nextContribID int

	conceptsByKey map[string]types.Concept
	nextConceptID int

	sourceEntByTable map[string]map[string]types.SourceEntity
	nextSourceEntID  int

	// conflictOnceKeys simulates a concurrent inserter winning the first
	// InsertX call for a key; the second attempt for the same key succeeds.
	conflictOnceKeys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entitiesByKey:    make(map[string]types.Entity),
		contribsByKey:    make(map[string]types.Contributor),
		conceptsByKey:    make(map[string]types.Concept),
		sourceEntByTable: make(map[string]map[string]types.SourceEntity),
		conflictOnceKeys: make(map[string]bool),
	}
}

func identKey(ids []types.Identifier) string {
	if len(ids) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", ids[0])
}

func (f *fakeStore) FindEntityByIdentifiers(ctx context.Context, ids []types.Identifier) (*types.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if e, ok := f.entitiesByKey["id:"+string(id.Type)+":"+id.Value]; ok {
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindEntityByName(ctx context.Context, firstName, lastName string) (*types.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entitiesByKey["name:"+firstName+"|"+lastName]; ok {
		return &e, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertEntity(ctx context.Context, e types.Entity) (types.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conflictKey := "entity:" + identKey(e.Identifiers) + "|" + e.FirstName + "|" + e.LastName
	if f.conflictOnceKeys[conflictKey] {
		delete(f.conflictOnceKeys, conflictKey)
		return types.Entity{}, errs.New(errs.DatabaseConnection, "insert entity", errs.ErrConflict)
	}
	for _, id := range e.Identifiers {
		if _, exists := f.entitiesByKey["id:"+string(id.Type)+":"+id.Value]; exists {
			return types.Entity{}, errs.New(errs.DatabaseConnection, "insert entity", errs.ErrConflict)
		}
	}

	f.nextEntityID++
	e.ID = fmt.Sprintf("ent-%d", f.nextEntityID)
	for _, id := range e.Identifiers {
		f.entitiesByKey["id:"+string(id.Type)+":"+id.Value] = e
	}
	if len(e.Identifiers) == 0 {
		f.entitiesByKey["name:"+e.FirstName+"|"+e.LastName] = e
	}
	return e, nil
}

func (f *fakeStore) UpdateEntity(ctx context.Context, e types.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range e.Identifiers {
		f.entitiesByKey["id:"+string(id.Type)+":"+id.Value] = e
	}
	return nil
}

func (f *fakeStore) FindContributor(ctx context.Context, key string) (*types.Contributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contribsByKey[key]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertContributor(ctx context.Context, c types.Contributor) (types.Contributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := c.Key()
	if f.conflictOnceKeys["contrib:"+key] {
		delete(f.conflictOnceKeys, "contrib:"+key)
		return types.Contributor{}, errs.New(errs.DatabaseConnection, "insert contributor", errs.ErrConflict)
	}
	if _, exists := f.contribsByKey[key]; exists {
		// UNIQUE (lookup_key): the concurrent inserter won.
		return types.Contributor{}, errs.New(errs.DatabaseConnection, "insert contributor", errs.ErrConflict)
	}
	f.nextContribID++
	c.ID = fmt.Sprintf("contrib-%d", f.nextContribID)
	f.contribsByKey[key] = c
	return c, nil
}

func (f *fakeStore) UpdateContributor(ctx context.Context, c types.Contributor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contribsByKey[c.Key()] = c
	return nil
}

func (f *fakeStore) FindConcept(ctx context.Context, key string) (*types.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conceptsByKey[key]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertConcept(ctx context.Context, c types.Concept) (types.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, _ := c.Key()
	if _, exists := f.conceptsByKey[key]; exists {
		return types.Concept{}, errs.New(errs.DatabaseConnection, "insert concept", errs.ErrConflict)
	}
	f.nextConceptID++
	c.ID = fmt.Sprintf("concept-%d", f.nextConceptID)
	f.conceptsByKey[key] = c
	return c, nil
}

func (f *fakeStore) FindSourceEntity(ctx context.Context, table, key string) (*types.SourceEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if byKey, ok := f.sourceEntByTable[table]; ok {
		if e, ok := byKey[key]; ok {
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindSourceEntityByAnyIdentifier(ctx context.Context, table string, ids []types.Identifier) (*types.SourceEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byKey, ok := f.sourceEntByTable[table]
	if !ok {
		return nil, nil
	}
	for _, e := range byKey {
		for _, id := range e.Identifiers {
			for _, want := range ids {
				if id == want {
					return &e, nil
				}
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertSourceEntity(ctx context.Context, table string, e types.SourceEntity) (types.SourceEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sourceEntByTable[table] == nil {
		f.sourceEntByTable[table] = make(map[string]types.SourceEntity)
	}
	if _, exists := f.sourceEntByTable[table][e.Key()]; exists {
		return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "insert source entity", errs.ErrConflict)
	}
	f.nextSourceEntID++
	e.ID = fmt.Sprintf("%s-%d", table, f.nextSourceEntID)
	f.sourceEntByTable[table][e.Key()] = e
	return e, nil
}

func (f *fakeStore) UpdateSourceEntity(ctx context.Context, table string, e types.SourceEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sourceEntByTable[table] == nil {
		f.sourceEntByTable[table] = make(map[string]types.SourceEntity)
	}
	f.sourceEntByTable[table][e.Key()] = e
	return nil
}
