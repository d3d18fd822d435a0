// Package reconcile implements entity reconciliation: lookup-or-create
// for Entity, Contributor, Concept, Organization, Journal, Issue, Book and
// DocumentType under unique constraints, with retry-once-on-conflict and a
// per-conversion cache to avoid duplicate creation attempts within one
// reference.
package reconcile

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Store is the minimal persistence contract reconciliation needs. It is
// satisfied by internal/store's backends; defining it here (rather than
// importing internal/store) keeps this package import-cycle-free and
// independently testable against a fake.
type Store interface {
	FindEntityByIdentifiers(ctx context.Context, ids []types.Identifier) (*types.Entity, error)
	FindEntityByName(ctx context.Context, firstName, lastName string) (*types.Entity, error)
	InsertEntity(ctx context.Context, e types.Entity) (types.Entity, error)
	UpdateEntity(ctx context.Context, e types.Entity) error

	FindContributor(ctx context.Context, key string) (*types.Contributor, error)
	InsertContributor(ctx context.Context, c types.Contributor) (types.Contributor, error)
	UpdateContributor(ctx context.Context, c types.Contributor) error

	FindConcept(ctx context.Context, key string) (*types.Concept, error)
	InsertConcept(ctx context.Context, c types.Concept) (types.Concept, error)

	FindSourceEntity(ctx context.Context, table, key string) (*types.SourceEntity, error)
	InsertSourceEntity(ctx context.Context, table string, e types.SourceEntity) (types.SourceEntity, error)
	UpdateSourceEntity(ctx context.Context, table string, e types.SourceEntity) error
	FindSourceEntityByAnyIdentifier(ctx context.Context, table string, ids []types.Identifier) (*types.SourceEntity, error)
}

// ConceptDereferencer delegates URI resolution to an external
// collaborator (JEL, Wikidata). On failure a stub concept is created
// instead.
type ConceptDereferencer interface {
	Dereference(ctx context.Context, uri string) (types.Concept, error)
}
