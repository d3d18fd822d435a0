package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/jdp1ps/svp-harvester-go/internal/health"
	"github.com/jdp1ps/svp-harvester-go/internal/orchestrator"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// startTestNATS starts an embedded NATS server with JetStream for
// testing, so integration-shaped tests need no network or external
// process.
func startTestNATS(t *testing.T) (nats.JetStreamContext, func()) {
	t.Helper()
	opts := &natsserver.Options{
		Port:               -1,
		JetStream:          true,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  64 << 20,
		StoreDir:           t.TempDir(),
		NoLog:              true,
		NoSigs:             true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatalf("connect: %v", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("jetstream: %v", err)
	}
	return js, func() {
		nc.Drain()
		nc.Close()
		ns.Shutdown()
	}
}

type fakeRunner struct {
	mu         sync.Mutex
	registered []types.Entity
}

func (f *fakeRunner) Register(_ context.Context, entity types.Entity, _ types.RetrievalOptions) (types.Retrieval, error) {
	f.mu.Lock()
	f.registered = append(f.registered, entity)
	f.mu.Unlock()
	return types.Retrieval{ID: "retrieval-1", EntityID: "entity-1"}, nil
}

func (f *fakeRunner) Run(_ context.Context, retrieval types.Retrieval, _ types.Entity, resultCh chan<- orchestrator.Event) error {
	defer close(resultCh)
	resultCh <- orchestrator.Event{Kind: orchestrator.EventHarvesting, Harvesting: &types.Harvesting{ID: "h-1", RetrievalID: retrieval.ID, State: types.HarvestingCompleted}}
	resultCh <- orchestrator.Event{Kind: orchestrator.EventReferenceEvent, ReferenceEvent: &types.ReferenceEvent{ID: "evt-1", HarvestingID: "h-1", Type: types.EventCreated}}
	return nil
}

func TestPoolProcessesInboundMessageS1(t *testing.T) {
	js, cleanup := startTestNATS(t)
	defer cleanup()

	runner := &fakeRunner{}
	capture := &fakeJetStream{}
	publisher := NewPublisher(capture, nil)
	h := health.New()

	pool, err := NewPool(js, runner, publisher, h, Config{
		DurableName:   "test-consumer",
		Workers:       2,
		ResultTimeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	payload, _ := json.Marshal(InboundMessage{
		Type:   "person",
		Fields: InboundFields{Identifiers: []InboundIdentRef{{Type: "idref", Value: "027231313"}}},
		Reply:  true,
	})
	if _, err := js.Publish(InboundSubject, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		capture.mu.Lock()
		n := len(capture.published)
		capture.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for published results, got %d so far", n)
		case <-time.After(20 * time.Millisecond):
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.registered) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(runner.registered))
	}
	if len(runner.registered[0].Identifiers) != 1 || runner.registered[0].Identifiers[0].Value != "027231313" {
		t.Fatalf("unexpected entity: %+v", runner.registered[0])
	}

	pool.Stop()
}

func TestPoolPublishesRetrievalErrorOnInvalidEntity(t *testing.T) {
	js, cleanup := startTestNATS(t)
	defer cleanup()

	runner := &fakeRunner{}
	capture := &fakeJetStream{}
	publisher := NewPublisher(capture, nil)
	h := health.New()

	pool, err := NewPool(js, runner, publisher, h, Config{DurableName: "test-consumer-2", Workers: 1}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	payload, _ := json.Marshal(InboundMessage{Type: "person"})
	if _, err := js.Publish(InboundSubject, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		capture.mu.Lock()
		n := len(capture.published)
		capture.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the invalid-entity event")
		case <-time.After(20 * time.Millisecond):
		}
	}
	capture.mu.Lock()
	first := capture.published[0]
	capture.mu.Unlock()
	if first.Subject != SubjectRetrievalError {
		t.Fatalf("subject = %q, want %q", first.Subject, SubjectRetrievalError)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.registered) != 0 {
		t.Fatal("no entity should have been registered for an invalid message")
	}

	pool.Stop()
}
