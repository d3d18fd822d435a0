package harvester

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/fingerprint"
	"github.com/jdp1ps/svp-harvester-go/internal/reconcile"
	"github.com/jdp1ps/svp-harvester-go/internal/thirdcache"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// The adapters below are illustrative, minimal implementations of the
// HAL, OpenAlex and IdRef/SUDOC sources. They carry just enough shape to
// exercise the Adapter/SecondaryFetcher contracts and the registry; a
// production deployment supplies the real HTTP/SPARQL clients and payload
// parsers behind the same interface.

// HALAdapter is relevant to entities carrying an idhal_i or idhal_s
// identifier. cache is held for a fetch path that makes external GETs; the
// built-in Fetch below makes none and does not read it.
type HALAdapter struct {
	cache   *thirdcache.Cache
	fetchFn func(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error)
}

func NewHALAdapter(cache *thirdcache.Cache) *HALAdapter { return &HALAdapter{cache: cache} }

func (a *HALAdapter) Name() string    { return "hal" }
func (a *HALAdapter) Version() string { return "1.0.0" }

func (a *HALAdapter) IsRelevant(entity types.Entity) bool {
	for _, id := range entity.Identifiers {
		if id.Type == types.IdentifierIdHalI || id.Type == types.IdentifierIdHalS {
			return true
		}
	}
	return false
}

func (a *HALAdapter) HashKeys(version string) []fingerprint.HashKey {
	return []fingerprint.HashKey{
		{Name: "title"},
		{Name: "abstract"},
		{Name: "authors", Ordered: true},
	}
}

func (a *HALAdapter) Fetch(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error) {
	if a.fetchFn != nil {
		return a.fetchFn(ctx, entity)
	}
	out := make(chan Raw)
	errc := make(chan error, 1)
	close(out)
	close(errc)
	return out, errc
}

func (a *HALAdapter) Convert(ctx context.Context, raw Raw, rc *reconcile.Context) (types.Reference, error) {
	title, _ := raw["title"].(string)
	return types.Reference{
		Harvester:        a.Name(),
		HarvesterVersion: a.Version(),
		SourceIdentifier: stringField(raw, "docid"),
		Titles:           []string{title},
		Subtitles:        []string{},
		Abstracts:        []string{},
		Subjects:         []types.Concept{},
		DocumentTypes:    []types.DocumentType{},
		Contributions:    []types.Contribution{},
	}, nil
}

// OpenAlexAdapter is relevant to entities carrying an ORCID.
type OpenAlexAdapter struct {
	cache   *thirdcache.Cache
	fetchFn func(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error)
}

func NewOpenAlexAdapter(cache *thirdcache.Cache) *OpenAlexAdapter {
	return &OpenAlexAdapter{cache: cache}
}

func (a *OpenAlexAdapter) Name() string    { return "openalex" }
func (a *OpenAlexAdapter) Version() string { return "1.0.0" }

func (a *OpenAlexAdapter) IsRelevant(entity types.Entity) bool {
	for _, id := range entity.Identifiers {
		if id.Type == types.IdentifierOrcid {
			return true
		}
	}
	return false
}

func (a *OpenAlexAdapter) HashKeys(version string) []fingerprint.HashKey {
	return []fingerprint.HashKey{{Name: "display_name"}, {Name: "concepts", Ordered: false}}
}

func (a *OpenAlexAdapter) Fetch(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error) {
	if a.fetchFn != nil {
		return a.fetchFn(ctx, entity)
	}
	out := make(chan Raw)
	errc := make(chan error, 1)
	close(out)
	close(errc)
	return out, errc
}

func (a *OpenAlexAdapter) Convert(ctx context.Context, raw Raw, rc *reconcile.Context) (types.Reference, error) {
	title, _ := raw["display_name"].(string)
	return types.Reference{
		Harvester:        a.Name(),
		HarvesterVersion: a.Version(),
		SourceIdentifier: stringField(raw, "id"),
		Titles:           []string{title},
		Subtitles:        []string{},
		Abstracts:        []string{},
		Subjects:         []types.Concept{},
		DocumentTypes:    []types.DocumentType{},
		Contributions:    []types.Contribution{},
	}, nil
}

// IdRefAdapter is relevant to entities carrying an idref identifier. It
// implements SecondaryFetcher: hits on IdRef are enriched with a bounded
// SUDOC fan-out, driven by the
// orchestrator rather than self-throttled here.
type IdRefAdapter struct {
	cache            *thirdcache.Cache
	fetchFn          func(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error)
	fetchSecondaryFn func(ctx context.Context, ids []string) (<-chan Raw, error)
}

func NewIdRefAdapter(cache *thirdcache.Cache) *IdRefAdapter { return &IdRefAdapter{cache: cache} }

func (a *IdRefAdapter) Name() string    { return "idref" }
func (a *IdRefAdapter) Version() string { return "1.0.0" }

func (a *IdRefAdapter) IsRelevant(entity types.Entity) bool {
	for _, id := range entity.Identifiers {
		if id.Type == types.IdentifierIdRef {
			return true
		}
	}
	return false
}

func (a *IdRefAdapter) HashKeys(version string) []fingerprint.HashKey {
	return []fingerprint.HashKey{{Name: "title"}, {Name: "sudoc_ppn"}}
}

func (a *IdRefAdapter) Fetch(ctx context.Context, entity types.Entity) (<-chan Raw, <-chan error) {
	if a.fetchFn != nil {
		return a.fetchFn(ctx, entity)
	}
	out := make(chan Raw)
	errc := make(chan error, 1)
	close(out)
	close(errc)
	return out, errc
}

// FetchSecondary fetches SUDOC enrichment records for a batch of PPN ids.
// The orchestrator bounds how many concurrent calls to this method are
// in flight; this method itself performs one batched round trip.
func (a *IdRefAdapter) FetchSecondary(ctx context.Context, ids []string) (<-chan Raw, error) {
	if a.fetchSecondaryFn != nil {
		return a.fetchSecondaryFn(ctx, ids)
	}
	out := make(chan Raw)
	close(out)
	return out, nil
}

func (a *IdRefAdapter) Convert(ctx context.Context, raw Raw, rc *reconcile.Context) (types.Reference, error) {
	title, _ := raw["title"].(string)
	return types.Reference{
		Harvester:        a.Name(),
		HarvesterVersion: a.Version(),
		SourceIdentifier: stringField(raw, "ppn"),
		Titles:           []string{title},
		Subtitles:        []string{},
		Abstracts:        []string{},
		Subjects:         []types.Concept{},
		DocumentTypes:    []types.DocumentType{},
		Contributions:    []types.Contribution{},
	}, nil
}

func stringField(raw Raw, key string) string {
	v, _ := raw[key].(string)
	return v
}

var (
	_ Adapter          = (*HALAdapter)(nil)
	_ Adapter          = (*OpenAlexAdapter)(nil)
	_ SecondaryFetcher = (*IdRefAdapter)(nil)
)

// RegisterDefaults registers the built-in adapters (HAL, OpenAlex, IdRef)
// under the names a harvesters.toml entry refers to. cache may be nil when
// third-API caching is disabled. Options are unused by the illustrative
// adapters above.
func RegisterDefaults(r *Registry, cache *thirdcache.Cache) {
	r.Register("hal", func(options map[string]any) (Adapter, error) {
		return NewHALAdapter(cache), nil
	})
	r.Register("openalex", func(options map[string]any) (Adapter, error) {
		return NewOpenAlexAdapter(cache), nil
	})
	r.Register("idref", func(options map[string]any) (Adapter, error) {
		return NewIdRefAdapter(cache), nil
	})
}
