package types

import "fmt"

// EntityType discriminates the polymorphic Entity variants. Person is the
// only variant the core ships with; additional variants (e.g. Organization
// as a harvest subject) are expected to extend this set, not replace it.
type EntityType string

const (
	EntityPerson EntityType = "person"
)

// Entity is the subject of a Retrieval: a polymorphic record identified by
// one or more external Identifiers, or by a full name when no identifier is
// available.
type Entity struct {
	ID          string       `json:"id"`
	Type        EntityType   `json:"type"`
	Name        string       `json:"name"`
	FirstName   string       `json:"first_name,omitempty"`
	LastName    string       `json:"last_name,omitempty"`
	Identifiers []Identifier `json:"identifiers"`
}

// Validate enforces the Person identity rule: at least one
// recognised identifier OR a full first+last name.
func (e Entity) Validate() error {
	if e.Type == "" {
		e.Type = EntityPerson
	}
	if e.Type != EntityPerson {
		return fmt.Errorf("unsupported entity type %q", e.Type)
	}
	if len(e.Identifiers) == 0 && (e.FirstName == "" || e.LastName == "") {
		return fmt.Errorf("entity requires at least one identifier or a full first and last name")
	}
	for _, id := range e.Identifiers {
		if id.Value == "" {
			return fmt.Errorf("identifier value is required for type %q", id.Type)
		}
	}
	return nil
}

// EventType is a ReferenceEvent classification.
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventUnchanged EventType = "unchanged"
	EventDeleted   EventType = "deleted"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventUnchanged, EventDeleted:
		return true
	default:
		return false
	}
}

// AllEventTypes is the default `events` option when a Retrieval does not
// restrict which event kinds it wants to see.
var AllEventTypes = []EventType{EventCreated, EventUpdated, EventUnchanged, EventDeleted}
