package reconcile

import (
	"context"
	"fmt"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// ResolveContributor resolves a Contributor, including the "name
// drift" rule: when the stored name differs from the incoming name but the
// identifier matches, the old name is pushed onto NameVariants (dedup) and
// the incoming name is written over the canonical field. The per-conversion
// cache is consulted first so the same contributor referenced twice within
// one Reference is resolved once.
func (c *Context) ResolveContributor(ctx context.Context, incoming types.Contributor) (types.Contributor, error) {
	key := incoming.Key()

	c.mu.Lock()
	if cached, ok := c.contribs[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	found, err := c.store.FindContributor(ctx, key)
	if err != nil {
		return types.Contributor{}, errs.New(errs.DatabaseConnection, "find contributor", err)
	}

	var resolved types.Contributor
	if found != nil {
		resolved, err = c.applyNameDrift(ctx, *found, incoming)
		if err != nil {
			return types.Contributor{}, err
		}
	} else {
		resolved, err = c.insertContributorRetryOnce(ctx, incoming)
		if err != nil {
			return types.Contributor{}, err
		}
	}

	c.mu.Lock()
	c.contribs[key] = resolved
	c.mu.Unlock()
	return resolved, nil
}

func (c *Context) applyNameDrift(ctx context.Context, stored, incoming types.Contributor) (types.Contributor, error) {
	changed := false

	if incoming.Name != "" && incoming.Name != stored.Name {
		stored.NameVariants = appendUnique(stored.NameVariants, stored.Name)
		stored.Name = incoming.Name
		changed = true
	}
	if (incoming.FirstName != "" || incoming.LastName != "") &&
		(incoming.FirstName != stored.FirstName || incoming.LastName != stored.LastName) {
		pair := [2]string{stored.FirstName, stored.LastName}
		stored.StructuredNameVariants = appendUniquePair(stored.StructuredNameVariants, pair)
		stored.FirstName = incoming.FirstName
		stored.LastName = incoming.LastName
		changed = true
	}

	if !changed {
		return stored, nil
	}
	if err := c.store.UpdateContributor(ctx, stored); err != nil {
		return types.Contributor{}, errs.New(errs.DatabaseConnection, "update contributor", err)
	}
	return stored, nil
}

func (c *Context) insertContributorRetryOnce(ctx context.Context, incoming types.Contributor) (types.Contributor, error) {
	v, err, _ := c.group.Do("contributor:"+incoming.Key(), func() (any, error) {
		inserted, err := c.store.InsertContributor(ctx, incoming)
		if err == nil {
			return inserted, nil
		}
		if !errs.IsConflict(err) {
			return types.Contributor{}, errs.New(errs.DatabaseConnection, "insert contributor", err)
		}
		found, ferr := c.store.FindContributor(ctx, incoming.Key())
		if ferr != nil {
			return types.Contributor{}, errs.New(errs.DatabaseConnection, "find contributor after conflict", ferr)
		}
		if found == nil {
			return types.Contributor{}, errs.New(errs.Unexpected, "insert contributor", fmt.Errorf("conflict reported but no row found on retry"))
		}
		return *found, nil
	})
	if err != nil {
		return types.Contributor{}, err
	}
	return v.(types.Contributor), nil
}

func appendUnique(variants []string, v string) []string {
	if v == "" {
		return variants
	}
	for _, existing := range variants {
		if existing == v {
			return variants
		}
	}
	return append(variants, v)
}

func appendUniquePair(variants [][2]string, v [2]string) [][2]string {
	if v[0] == "" && v[1] == "" {
		return variants
	}
	for _, existing := range variants {
		if existing == v {
			return variants
		}
	}
	return append(variants, v)
}
