package reconcile

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Context is the per-conversion reconciliation scope. A
// new Context is created once per adapter conversion pass and discarded
// when that reference (or batch) finishes converting; it must never be
// shared across adapters or retrievals.
type Context struct {
	store        Store
	dereferencer ConceptDereferencer

	mu        sync.Mutex
	entities  map[string]types.Entity
	contribs  map[string]types.Contributor
	concepts  map[string]types.Concept
	sourceEnt map[string]types.SourceEntity

	// group collapses concurrent identical-key creation attempts made
	// through this Context, ahead of the DB round trip. Separate Contexts
	// do not share it; their races are settled by the retry-once-on-conflict
	// path.
	group singleflight.Group

	safeMode bool

	// Languages is the ordered label-language preference list
	// (`concept_languages`) PreferredLabel walks when marking a reconciled
	// Concept's preferred label.
	Languages []string
}

// New builds a fresh per-conversion Context. safeMode mirrors the
// orchestrator's identifiers_safe_mode option: when true,
// merging two existing entities that share an identifier is forbidden.
func New(store Store, dereferencer ConceptDereferencer, safeMode bool) *Context {
	return &Context{
		store:        store,
		dereferencer: dereferencer,
		entities:     make(map[string]types.Entity),
		contribs:     make(map[string]types.Contributor),
		concepts:     make(map[string]types.Concept),
		sourceEnt:    make(map[string]types.SourceEntity),
		safeMode:     safeMode,
	}
}
