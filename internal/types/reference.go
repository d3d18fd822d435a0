package types

import (
	"fmt"
	"time"
)

// Label is a (value, language, preferred) triple attached to a Concept.
type Label struct {
	Value     string `json:"value"`
	Language  string `json:"language,omitempty"`
	Preferred bool   `json:"preferred"`
}

// Concept is a subject term, optionally URI-identified.
type Concept struct {
	ID     string  `json:"id,omitempty"`
	URI    string  `json:"uri,omitempty"`
	Labels []Label `json:"labels"`
}

// Key returns the reconciliation key: by URI when
// present, otherwise by (label.value, label.language) of the first label.
func (c Concept) Key() (string, bool) {
	if c.URI != "" {
		return "uri:" + c.URI, true
	}
	if len(c.Labels) > 0 {
		l := c.Labels[0]
		return "label:" + l.Value + "\x00" + l.Language, true
	}
	return "", false
}

// Contributor is a person in the authorship graph of a Reference.
type Contributor struct {
	ID                     string       `json:"id,omitempty"`
	Source                 string       `json:"source"`
	SourceIdentifier       string       `json:"source_identifier,omitempty"`
	Name                   string       `json:"name"`
	FirstName              string       `json:"first_name,omitempty"`
	LastName               string       `json:"last_name,omitempty"`
	NameVariants           []string     `json:"name_variants,omitempty"`
	StructuredNameVariants [][2]string  `json:"structured_name_variants,omitempty"`
	Identifiers            []Identifier `json:"identifiers,omitempty"`
}

// Key returns the reconciliation key: (source,
// source_identifier) when the identifier is set, otherwise (source, name).
func (c Contributor) Key() string {
	if c.SourceIdentifier != "" {
		return c.Source + "\x00sid:" + c.SourceIdentifier
	}
	return c.Source + "\x00name:" + c.Name
}

// SourceEntity is the shared shape of Organization, Journal, Issue, Book and
// DocumentType: each is keyed by (source, source_identifier).
type SourceEntity struct {
	ID               string       `json:"id,omitempty"`
	Source           string       `json:"source"`
	SourceIdentifier string       `json:"source_identifier"`
	Name             string       `json:"name,omitempty"`
	Identifiers      []Identifier `json:"identifiers,omitempty"`
}

func (s SourceEntity) Key() string {
	return s.Source + "\x00" + s.SourceIdentifier
}

func (s SourceEntity) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if s.SourceIdentifier == "" {
		return fmt.Errorf("source_identifier is required")
	}
	return nil
}

type (
	Organization SourceEntity
	Journal      SourceEntity
	Issue        SourceEntity
	Book         SourceEntity
	DocumentType SourceEntity
)

// Manifestation is an opaque carrier for adapter-specific rendering data
// (e.g. a PDF URL, a page range); the core never interprets it.
type Manifestation struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

// Reference is a normalised publication record.
type Reference struct {
	ID               string          `json:"id,omitempty"`
	SourceIdentifier string          `json:"source_identifier"`
	Harvester        string          `json:"harvester"`
	HarvesterVersion string          `json:"harvester_version"`
	Hash             string          `json:"hash"`
	Version          int             `json:"version"`
	Titles           []string        `json:"titles"`
	Subtitles        []string        `json:"subtitles"`
	Abstracts        []string        `json:"abstracts"`
	Subjects         []Concept       `json:"subjects"`
	Contributions    []Contribution  `json:"contributions"`
	DocumentTypes    []DocumentType  `json:"document_type"`
	Identifiers      []Identifier    `json:"identifiers"`
	Manifestations   []Manifestation `json:"manifestations"`
	Issue            *Issue          `json:"issue,omitempty"`
	Book             *Book           `json:"book,omitempty"`
	Page             string          `json:"page,omitempty"`
	Created          *time.Time      `json:"created,omitempty"`
	Issued           *time.Time      `json:"issued,omitempty"`
	RawIssued        string          `json:"raw_issued,omitempty"`

	// Enhanced marks a reference whose hash-participating fields are
	// unchanged but whose ancillary resolved entities were improved since
	// the last record.
	Enhanced bool `json:"-"`
}

// Contribution links a Contributor to a Reference with a role (e.g.
// "author", "editor"); the role vocabulary is adapter-defined.
type Contribution struct {
	Contributor Contributor `json:"contributor"`
	Role        string      `json:"role,omitempty"`
	Rank        int         `json:"rank,omitempty"`
}

// Validate enforces the Reference invariants: harvester
// non-blank, at least one title, plural fields non-nil (possibly empty),
// source_identifier non-null.
func (r Reference) Validate() error {
	if r.Harvester == "" {
		return fmt.Errorf("harvester is required")
	}
	if r.SourceIdentifier == "" {
		return fmt.Errorf("source_identifier is required")
	}
	if len(r.Titles) == 0 {
		return fmt.Errorf("at least one title is required")
	}
	if r.Abstracts == nil {
		return fmt.Errorf("abstracts must not be null")
	}
	if r.Subtitles == nil {
		return fmt.Errorf("subtitles must not be null")
	}
	if r.Subjects == nil {
		return fmt.Errorf("subjects must not be null")
	}
	if r.DocumentTypes == nil {
		return fmt.Errorf("document_type must not be null")
	}
	if r.Contributions == nil {
		return fmt.Errorf("contributions must not be null")
	}
	return nil
}

// ReferenceEvent is a typed diff emitted by the recorder.
type ReferenceEvent struct {
	ID           string    `json:"id,omitempty"`
	HarvestingID string    `json:"harvesting_id"`
	ReferenceID  string    `json:"reference_id"`
	Type         EventType `json:"event_type"`
	Enhanced     bool      `json:"enhanced,omitempty"`

	// Reference carries the row this event points at, so the outbound wire
	// event can embed the full reference body; the persisted event row
	// stores only ReferenceID.
	Reference *Reference `json:"-"`
}

func (e ReferenceEvent) Validate() error {
	if e.HarvestingID == "" {
		return fmt.Errorf("harvesting_id is required")
	}
	if e.ReferenceID == "" {
		return fmt.Errorf("reference_id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	return nil
}
