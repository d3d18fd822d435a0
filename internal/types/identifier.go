package types

import "fmt"

// IdentifierType is drawn from a closed, configured set. Types outside the
// recognised set are rejected at construction time rather than silently
// accepted, so a typo in harvester config fails fast instead of producing an
// orphaned identifier no adapter will ever match.
type IdentifierType string

const (
	IdentifierIdRef  IdentifierType = "idref"
	IdentifierOrcid  IdentifierType = "orcid"
	IdentifierIdHalI IdentifierType = "idhal_i"
	IdentifierIdHalS IdentifierType = "idhal_s"
)

// RecognisedIdentifierTypes is the default closed set. Deployments may widen
// it via config (see internal/config); NewIdentifier always validates
// against the set passed to it so callers stay in control of what "closed"
// means for their harvester registry.
var RecognisedIdentifierTypes = map[IdentifierType]bool{
	IdentifierIdRef:  true,
	IdentifierOrcid:  true,
	IdentifierIdHalI: true,
	IdentifierIdHalS: true,
}

// Identifier is an external (type, value) pair unique within its owning
// entity kind.
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// NewIdentifier validates Type against recognised before returning it.
func NewIdentifier(recognised map[IdentifierType]bool, typ IdentifierType, value string) (Identifier, error) {
	if recognised == nil {
		recognised = RecognisedIdentifierTypes
	}
	if !recognised[typ] {
		return Identifier{}, fmt.Errorf("identifier type %q is not recognised", typ)
	}
	if value == "" {
		return Identifier{}, fmt.Errorf("identifier value is required")
	}
	return Identifier{Type: typ, Value: value}, nil
}

// WithoutTypes returns a copy of ids that excludes any identifier whose Type
// appears in nullify. Used by entity resolution to honour the orchestrator's
// `nullify` option without mutating the caller's slice.
func WithoutTypes(ids []Identifier, nullify []IdentifierType) []Identifier {
	if len(nullify) == 0 {
		return ids
	}
	excluded := make(map[IdentifierType]bool, len(nullify))
	for _, t := range nullify {
		excluded[t] = true
	}
	out := make([]Identifier, 0, len(ids))
	for _, id := range ids {
		if !excluded[id.Type] {
			out = append(out, id)
		}
	}
	return out
}

// SharesIdentifier reports whether a and b have at least one (type, value)
// pair in common.
func SharesIdentifier(a, b []Identifier) bool {
	seen := make(map[Identifier]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if seen[id] {
			return true
		}
	}
	return false
}
