package broker

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/jdp1ps/svp-harvester-go/internal/orchestrator"
)

// jetStreamPublisher is the narrow slice of nats.JetStreamContext the
// Publisher needs, kept as its own interface so tests can substitute a fake
// without standing up a real NATS server.
type jetStreamPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher is the result publisher: given an orchestrator.Event, derive
// the subject, serialise to JSON and publish with a persistent-delivery
// header. On
// publish failure it logs and returns without raising; the core does not
// retry publishes, broker durability is the contract.
type Publisher struct {
	js     jetStreamPublisher
	logger *slog.Logger
}

func NewPublisher(js jetStreamPublisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{js: js, logger: logger}
}

// Publish derives the subject and payload for ev and publishes it. It never
// returns an error to the caller; failures are logged.
func (p *Publisher) Publish(ev orchestrator.Event) {
	subject, out := translate(ev)
	data, err := json.Marshal(out)
	if err != nil {
		p.logger.Error("marshal outbound event", "kind", ev.Kind, "error", err)
		return
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	// JetStream persists every accepted publish by definition (it is the
	// stream, not a transient subject); this header documents the intent
	// for any non-JetStream bridge consuming the same subject space, the
	// direct analogue of AMQP's persistent delivery mode.
	msg.Header.Set("delivery-mode", "persistent")

	if _, err := p.js.PublishMsg(msg); err != nil {
		p.logger.Error("publish event", "subject", subject, "error", err)
	}
}

func translate(ev orchestrator.Event) (string, OutboundEvent) {
	switch ev.Kind {
	case orchestrator.EventRetrieval:
		out := OutboundEvent{Type: "Retrieval", Error: ev.Error, Message: ev.Message, Parameters: ev.Parameters}
		if ev.Retrieval != nil {
			out.ID = ev.Retrieval.ID
		}
		if ev.Error {
			return SubjectRetrievalError, out
		}
		return SubjectRetrievalOK, out

	case orchestrator.EventHarvesting:
		h := ev.Harvesting
		out := OutboundEvent{
			Type:        "Harvesting",
			ID:          h.ID,
			RetrievalID: h.RetrievalID,
			Harvester:   h.Harvester,
			State:       string(h.State),
		}
		return SubjectForHarvestingState(h.State), out

	case orchestrator.EventReferenceEvent:
		e := ev.ReferenceEvent
		out := OutboundEvent{
			Type:         "ReferenceEvent",
			ID:           e.ID,
			HarvestingID: e.HarvestingID,
			Reference:    e.Reference,
			EventType:    string(e.Type),
		}
		if e.Enhanced {
			enhanced := true
			out.Enhanced = &enhanced
		}
		return SubjectForReferenceEvent(e.Type), out

	default:
		return SubjectRetrievalError, OutboundEvent{Type: "Retrieval", Error: true, Message: "unknown result kind"}
	}
}
