package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// HTTPDereferencer resolves a Concept URI (JEL, Wikidata, ...) by fetching
// it with an Accept: application/json header and reading a "label" field
// from the response. Real per-vocabulary parsing (SKOS/RDF, JEL's own
// taxonomy format) belongs to a full dereferencer implementation; this is
// the minimal HTTP round trip ResolveConcept needs to exercise the
// dereference-or-stub path against a real endpoint when one is
// configured.
type HTTPDereferencer struct {
	Client *http.Client
}

func NewHTTPDereferencer() *HTTPDereferencer {
	return &HTTPDereferencer{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *HTTPDereferencer) Dereference(ctx context.Context, uri string) (types.Concept, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return types.Concept{}, fmt.Errorf("build dereference request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return types.Concept{}, fmt.Errorf("dereference %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Concept{}, fmt.Errorf("dereference %s: status %d", uri, resp.StatusCode)
	}

	var body struct {
		Label    string `json:"label"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.Concept{}, fmt.Errorf("decode dereference response for %s: %w", uri, err)
	}

	return types.Concept{
		URI:    uri,
		Labels: []types.Label{{Value: body.Label, Language: body.Language, Preferred: true}},
	}, nil
}
