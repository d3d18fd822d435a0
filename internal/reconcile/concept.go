package reconcile

import (
	"context"
	"fmt"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// ResolveConcept resolves a Concept: DB lookup first, then
// delegation to the external dereferencer for URI-based concepts that
// aren't already stored. On dereferencing failure, a stub concept carrying
// only the URI and any label already available is created instead.
func (c *Context) ResolveConcept(ctx context.Context, incoming types.Concept) (types.Concept, error) {
	key, ok := incoming.Key()
	if !ok {
		return types.Concept{}, errs.New(errs.ReferenceValidation, "resolve concept", fmt.Errorf("concept has neither uri nor label"))
	}

	c.mu.Lock()
	if cached, ok := c.concepts[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	found, err := c.store.FindConcept(ctx, key)
	if err != nil {
		return types.Concept{}, errs.New(errs.DatabaseConnection, "find concept", err)
	}
	if found != nil {
		c.cacheConcept(key, *found)
		return *found, nil
	}

	toInsert := incoming
	if incoming.URI != "" && c.dereferencer != nil {
		dereferenced, derefErr := c.dereferencer.Dereference(ctx, incoming.URI)
		if derefErr == nil {
			toInsert = dereferenced
			toInsert.URI = incoming.URI
		}
		// On dereferencing failure, fall through and create a stub concept
		// carrying only the URI and whatever label was already available.
	}

	toInsert.Labels = markPreferredLabel(toInsert.Labels, c.Languages)

	resolved, err := c.insertConceptRetryOnce(ctx, key, toInsert)
	if err != nil {
		return types.Concept{}, err
	}
	c.cacheConcept(key, resolved)
	return resolved, nil
}

// PreferredLabel picks the label to display for a concept: the first label
// whose language appears in languages (walked in order), falling back to
// the first label marked Preferred, then to the first label seen.
func PreferredLabel(labels []types.Label, languages []string) (types.Label, bool) {
	if len(labels) == 0 {
		return types.Label{}, false
	}
	for _, lang := range languages {
		for _, l := range labels {
			if l.Language == lang {
				return l, true
			}
		}
	}
	for _, l := range labels {
		if l.Preferred {
			return l, true
		}
	}
	return labels[0], true
}

// markPreferredLabel normalises the Preferred flags so exactly the label
// PreferredLabel picks carries Preferred=true on the stored row.
func markPreferredLabel(labels []types.Label, languages []string) []types.Label {
	chosen, ok := PreferredLabel(labels, languages)
	if !ok {
		return labels
	}
	out := make([]types.Label, len(labels))
	for i, l := range labels {
		l.Preferred = l.Value == chosen.Value && l.Language == chosen.Language
		out[i] = l
	}
	return out
}

func (c *Context) cacheConcept(key string, concept types.Concept) {
	c.mu.Lock()
	c.concepts[key] = concept
	c.mu.Unlock()
}

func (c *Context) insertConceptRetryOnce(ctx context.Context, key string, incoming types.Concept) (types.Concept, error) {
	v, err, _ := c.group.Do("concept:"+key, func() (any, error) {
		inserted, err := c.store.InsertConcept(ctx, incoming)
		if err == nil {
			return inserted, nil
		}
		if !errs.IsConflict(err) {
			return types.Concept{}, errs.New(errs.DatabaseConnection, "insert concept", err)
		}
		found, ferr := c.store.FindConcept(ctx, key)
		if ferr != nil {
			return types.Concept{}, errs.New(errs.DatabaseConnection, "find concept after conflict", ferr)
		}
		if found == nil {
			return types.Concept{}, errs.New(errs.Unexpected, "insert concept", fmt.Errorf("conflict reported but no row found on retry"))
		}
		return *found, nil
	})
	if err != nil {
		return types.Concept{}, err
	}
	return v.(types.Concept), nil
}
