package orchestrator

import "github.com/jdp1ps/svp-harvester-go/internal/types"

// EventKind discriminates which field of Event is populated, mirroring the
// `type` discriminator of the outbound wire events.
type EventKind string

const (
	EventRetrieval      EventKind = "Retrieval"
	EventHarvesting     EventKind = "Harvesting"
	EventReferenceEvent EventKind = "ReferenceEvent"
)

// Event is one item streamed through the orchestrator's result channel.
// At most one of Retrieval/Harvesting/ReferenceEvent is set, selected by
// Kind; a retrieval-error event (Error true) sets none of them.
type Event struct {
	Kind           EventKind
	Retrieval      *types.Retrieval
	Harvesting     *types.Harvesting
	ReferenceEvent *types.ReferenceEvent

	// Error and Message carry a retrieval-error event's payload.
	Error      bool
	Message    string
	Parameters map[string]any
}

func retrievalEvent(r types.Retrieval) Event {
	cp := r
	return Event{Kind: EventRetrieval, Retrieval: &cp}
}

func retrievalErrorEvent(message string, parameters map[string]any) Event {
	return Event{Kind: EventRetrieval, Error: true, Message: message, Parameters: parameters}
}

func harvestingEvent(h types.Harvesting) Event {
	cp := h
	return Event{Kind: EventHarvesting, Harvesting: &cp}
}

func referenceEvent(e types.ReferenceEvent) Event {
	cp := e
	return Event{Kind: EventReferenceEvent, ReferenceEvent: &cp}
}
