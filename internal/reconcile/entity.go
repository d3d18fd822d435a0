package reconcile

import (
	"context"
	"fmt"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// ResolveEntity implements the lookup-or-create contract for the
// Retrieval subject. nullify holds the identifier types the orchestrator's
// `nullify` option asks to be treated as absent.
func (c *Context) ResolveEntity(ctx context.Context, incoming types.Entity, nullify []types.IdentifierType) (types.Entity, error) {
	ids := types.WithoutTypes(incoming.Identifiers, nullify)
	lookup := incoming
	lookup.Identifiers = ids
	if err := lookup.Validate(); err != nil {
		return types.Entity{}, errs.New(errs.InvalidEntity, "resolve entity", err)
	}

	cacheKey := entityCacheKey(lookup)
	c.mu.Lock()
	if cached, ok := c.entities[cacheKey]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var resolved *types.Entity
	if len(ids) > 0 {
		found, err := c.store.FindEntityByIdentifiers(ctx, ids)
		if err != nil {
			return types.Entity{}, errs.New(errs.DatabaseConnection, "find entity by identifiers", err)
		}
		if found != nil {
			merged, err := c.mergeEntityIdentifiers(ctx, *found, ids)
			if err != nil {
				return types.Entity{}, err
			}
			resolved = &merged
		}
	} else {
		found, err := c.store.FindEntityByName(ctx, incoming.FirstName, incoming.LastName)
		if err != nil {
			return types.Entity{}, errs.New(errs.DatabaseConnection, "find entity by name", err)
		}
		resolved = found
	}

	if resolved == nil {
		created, err := c.insertEntityRetryOnce(ctx, lookup)
		if err != nil {
			return types.Entity{}, err
		}
		resolved = &created
	}

	c.mu.Lock()
	c.entities[cacheKey] = *resolved
	c.mu.Unlock()
	return *resolved, nil
}

// mergeEntityIdentifiers extends found's identifier set with any incoming
// identifiers it did not already carry and persists the extension. In
// safe mode (identifiers_safe_mode) the found row is returned untouched:
// no identifier merging across entities is permitted.
func (c *Context) mergeEntityIdentifiers(ctx context.Context, found types.Entity, incoming []types.Identifier) (types.Entity, error) {
	if c.safeMode {
		return found, nil
	}
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
	if err := c.store.UpdateEntity(ctx, found); err != nil {
		return types.Entity{}, errs.New(errs.DatabaseConnection, "update entity identifiers", err)
	}
	return found, nil
}

// insertEntityRetryOnce attempts the insert; on a unique-constraint
// conflict it rolls back and retries the lookup exactly once (a
// concurrent inserter won). A second conflict is a programming error.
func (c *Context) insertEntityRetryOnce(ctx context.Context, e types.Entity) (types.Entity, error) {
	key := entityCacheKey(e)
	v, err, _ := c.group.Do(key, func() (any, error) {
		inserted, err := c.store.InsertEntity(ctx, e)
		if err == nil {
			return inserted, nil
		}
		if !errs.IsConflict(err) {
			return types.Entity{}, errs.New(errs.DatabaseConnection, "insert entity", err)
		}
		var found *types.Entity
		var ferr error
		if len(e.Identifiers) > 0 {
			found, ferr = c.store.FindEntityByIdentifiers(ctx, e.Identifiers)
		} else {
			found, ferr = c.store.FindEntityByName(ctx, e.FirstName, e.LastName)
		}
		if ferr != nil {
			return types.Entity{}, errs.New(errs.DatabaseConnection, "find entity after conflict", ferr)
		}
		if found == nil {
			return types.Entity{}, errs.New(errs.Unexpected, "insert entity", fmt.Errorf("conflict reported but no row found on retry"))
		}
		return *found, nil
	})
	if err != nil {
		return types.Entity{}, err
	}
	return v.(types.Entity), nil
}

func entityCacheKey(e types.Entity) string {
	if len(e.Identifiers) > 0 {
		return fmt.Sprintf("entity:id:%v", e.Identifiers)
	}
	return fmt.Sprintf("entity:name:%s|%s", e.FirstName, e.LastName)
}
