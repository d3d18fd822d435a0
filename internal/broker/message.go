// Package broker implements the consumer pool and the result publisher
// over NATS JetStream. A JetStream stream plays the role of a durable
// topic exchange; NATS subjects play the role of routing keys; a durable
// pull consumer bound to a subject filter plays the role of a queue bound
// by routing key.
package broker

import (
	"encoding/json"
	"fmt"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

const (
	// StreamName is the JetStream stream standing in for the durable
	// `publications` topic exchange.
	StreamName = "PUBLICATIONS"

	// InboundSubject is the subject bound to the work queue, the inbound
	// routing key of the retrieval task.
	InboundSubject = "task.person.references.retrieval"
)

// Outbound subjects are already dot-delimited routing keys, so they map
// onto NATS subject tokens with no translation.
const (
	SubjectRetrievalOK      = "event.references.retrieval.ok"
	SubjectRetrievalError   = "event.references.retrieval.error"
	subjectHarvestingPrefix = "event.references.harvesting."
	subjectReferencePrefix  = "event.references.reference."
)

// SubjectForHarvestingState derives the outbound subject for a Harvesting
// state-change event.
func SubjectForHarvestingState(state types.HarvestingState) string {
	return subjectHarvestingPrefix + string(state)
}

// SubjectForReferenceEvent derives the outbound subject for a
// ReferenceEvent.
func SubjectForReferenceEvent(t types.EventType) string {
	return subjectReferencePrefix + string(t)
}

// InboundFields is the `fields` object of the inbound message schema.
type InboundFields struct {
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	Identifiers []InboundIdentRef `json:"identifiers"`
}

// InboundIdentRef is one entry of `fields.identifiers`.
type InboundIdentRef struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// InboundMessage is the decoded inbound message schema:
// `{type:"person", fields:{...}, reply?, nullify?, identifiers_safe_mode?,
// harvesters?, events?}`.
type InboundMessage struct {
	Type                string        `json:"type"`
	Fields              InboundFields `json:"fields"`
	Reply               bool          `json:"reply,omitempty"`
	Nullify             []string      `json:"nullify,omitempty"`
	IdentifiersSafeMode bool          `json:"identifiers_safe_mode,omitempty"`
	Harvesters          []string      `json:"harvesters,omitempty"`
	Events              []string      `json:"events,omitempty"`
}

// DecodeInboundMessage parses the wire JSON; unparseable JSON is a
// decode error. A parseable-but-empty entity (no identifiers and no full
// name) surfaces later, from Entity, as an invalid entity.
func DecodeInboundMessage(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// Entity converts the decoded fields into a types.Entity, using recognised
// to validate identifier types.
func (m InboundMessage) Entity(recognised map[types.IdentifierType]bool) (types.Entity, error) {
	entity := types.Entity{
		Type:      types.EntityPerson,
		FirstName: m.Fields.FirstName,
		LastName:  m.Fields.LastName,
	}
	if entity.FirstName != "" && entity.LastName != "" {
		entity.Name = entity.FirstName + " " + entity.LastName
	}
	for _, ref := range m.Fields.Identifiers {
		id, err := types.NewIdentifier(recognised, types.IdentifierType(ref.Type), ref.Value)
		if err != nil {
			return types.Entity{}, fmt.Errorf("no identifiers provided or identifier invalid: %w", err)
		}
		entity.Identifiers = append(entity.Identifiers, id)
	}
	if err := entity.Validate(); err != nil {
		return types.Entity{}, fmt.Errorf("no identifiers provided and no first+last name: %w", err)
	}
	return entity, nil
}

// Options extracts the orchestrator's RetrievalOptions from the message.
func (m InboundMessage) Options() types.RetrievalOptions {
	opts := types.RetrievalOptions{
		IdentifiersSafeMode: m.IdentifiersSafeMode,
		Harvesters:          m.Harvesters,
	}
	for _, n := range m.Nullify {
		opts.Nullify = append(opts.Nullify, types.IdentifierType(n))
	}
	for _, e := range m.Events {
		opts.Events = append(opts.Events, types.EventType(e))
	}
	return opts
}

// OutboundEvent is the union of the three outbound event schemas,
// marshaled with only the fields relevant to the event type populated;
// the wire shape stays a plain struct rather than routed through
// per-kind types.
type OutboundEvent struct {
	Type string `json:"type"`

	// Retrieval event fields.
	ID         string         `json:"id,omitempty"`
	Error      bool           `json:"error,omitempty"`
	Message    string         `json:"message,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Harvesting event fields.
	RetrievalID string `json:"retrieval_id,omitempty"`
	Harvester   string `json:"harvester,omitempty"`
	State       string `json:"state,omitempty"`

	// ReferenceEvent fields.
	HarvestingID string           `json:"harvesting_id,omitempty"`
	Reference    *types.Reference `json:"reference,omitempty"`
	EventType    string           `json:"event_type,omitempty"`
	Enhanced     *bool            `json:"enhanced,omitempty"`
}
