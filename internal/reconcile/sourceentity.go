package reconcile

import (
	"context"
	"fmt"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Table names for the generic SourceEntity resolver. Organization,
// Journal, Issue, Book and DocumentType are all `(source,
// source_identifier)`-keyed and share one resolution contract,
// so one function handles all of them parameterised by table.
const (
	TableOrganization = "organizations"
	TableJournal      = "journals"
	TableIssue        = "issues"
	TableBook         = "books"
	TableDocumentType = "document_types"
)

// ResolveSourceEntity implements the shared lookup-or-create contract for Organization,
// Journal, Issue, Book and DocumentType. When mergeByIdentifier is true
// (used for Organization), a match on *any* shared identifier is treated as
// the same row and extended with any new identifiers the incoming record
// carries.
func (c *Context) ResolveSourceEntity(ctx context.Context, table string, incoming types.SourceEntity, mergeByIdentifier bool) (types.SourceEntity, error) {
	if err := incoming.Validate(); err != nil {
		return types.SourceEntity{}, errs.New(errs.ReferenceValidation, "resolve "+table, err)
	}
	key := table + "\x00" + incoming.Key()

	c.mu.Lock()
	if cached, ok := c.sourceEnt[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	found, err := c.store.FindSourceEntity(ctx, table, incoming.Key())
	if err != nil {
		return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "find "+table, err)
	}
	if found == nil && mergeByIdentifier && len(incoming.Identifiers) > 0 {
		found, err = c.store.FindSourceEntityByAnyIdentifier(ctx, table, incoming.Identifiers)
		if err != nil {
			return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "find "+table+" by identifier", err)
		}
	}

	var resolved types.SourceEntity
	if found != nil {
		resolved, err = c.mergeSourceEntityIdentifiers(ctx, table, *found, incoming.Identifiers)
		if err != nil {
			return types.SourceEntity{}, err
		}
	} else {
		resolved, err = c.insertSourceEntityRetryOnce(ctx, table, incoming)
		if err != nil {
			return types.SourceEntity{}, err
		}
	}

	c.mu.Lock()
	c.sourceEnt[key] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// mergeSourceEntityIdentifiers extends found's identifier set with any new
// ones incoming carries, retaining found as the canonical row.
func (c *Context) mergeSourceEntityIdentifiers(ctx context.Context, table string, found types.SourceEntity, incoming []types.Identifier) (types.SourceEntity, error) {
	existing := make(map[types.Identifier]bool, len(found.Identifiers))
	for _, id := range found.Identifiers {
		existing[id] = true
	}
	extended := false
	for _, id := range incoming {
		if !existing[id] {
			found.Identifiers = append(found.Identifiers, id)
			extended = true
		}
	}
	if !extended {
		return found, nil
	}
	if err := c.store.UpdateSourceEntity(ctx, table, found); err != nil {
		return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "update "+table, err)
	}
	return found, nil
}

func (c *Context) insertSourceEntityRetryOnce(ctx context.Context, table string, incoming types.SourceEntity) (types.SourceEntity, error) {
	v, err, _ := c.group.Do(table+":"+incoming.Key(), func() (any, error) {
		inserted, err := c.store.InsertSourceEntity(ctx, table, incoming)
		if err == nil {
			return inserted, nil
		}
		if !errs.IsConflict(err) {
			return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "insert "+table, err)
		}
		found, ferr := c.store.FindSourceEntity(ctx, table, incoming.Key())
		if ferr != nil {
			return types.SourceEntity{}, errs.New(errs.DatabaseConnection, "find "+table+" after conflict", ferr)
		}
		if found == nil {
			return types.SourceEntity{}, errs.New(errs.Unexpected, "insert "+table, fmt.Errorf("conflict reported but no row found on retry"))
		}
		return *found, nil
	})
	if err != nil {
		return types.SourceEntity{}, err
	}
	return v.(types.SourceEntity), nil
}
