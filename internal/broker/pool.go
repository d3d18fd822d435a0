package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/health"
	"github.com/jdp1ps/svp-harvester-go/internal/orchestrator"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// DefaultResultTimeout is the per-result timeout a reply-mode
// results-listener waits before declaring the orchestrator's result
// channel stalled.
const DefaultResultTimeout = 600 * time.Second

// workerState is the per-worker state machine: idle -> processing -> idle.
// Messages are auto-acked on read by the puller, so there is no ack/nack
// state here and no second acknowledgement round-trips to the broker.
type workerState string

const (
	stateIdle       workerState = "idle"
	stateProcessing workerState = "processing"
)

// Runner is the minimal orchestrator surface the pool depends on, kept
// narrow so the pool can be tested against a fake without a real store.
type Runner interface {
	Register(ctx context.Context, entity types.Entity, options types.RetrievalOptions) (types.Retrieval, error)
	Run(ctx context.Context, retrieval types.Retrieval, entity types.Entity, resultCh chan<- orchestrator.Event) error
}

// Config holds the consumer-pool tunables.
type Config struct {
	// QueueName/DurableName identify the durable pull consumer bound to
	// InboundSubject.
	QueueName   string
	DurableName string

	// PrefetchCount is the QoS knob, mapped onto
	// JetStream's MaxAckPending.
	PrefetchCount int

	// Workers is W, the fixed worker-task pool size.
	Workers int

	// InnerTaskQueueLength is Q, the bounded internal task channel
	// capacity.
	InnerTaskQueueLength int

	// WaitBeforeShutdown bounds graceful drain.
	WaitBeforeShutdown time.Duration

	// ConsumerAckTimeout is the x-consumer-timeout analogue, mapped onto
	// JetStream's AckWait.
	ConsumerAckTimeout time.Duration

	// ResultTimeout is the per-result pull timeout for reply-mode
	// results-listeners.
	ResultTimeout time.Duration

	// RecognisedIdentifiers overrides types.RecognisedIdentifierTypes,
	// letting config widen the closed identifier-type set.
	RecognisedIdentifiers map[types.IdentifierType]bool
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.InnerTaskQueueLength <= 0 {
		c.InnerTaskQueueLength = 64
	}
	if c.WaitBeforeShutdown <= 0 {
		c.WaitBeforeShutdown = 30 * time.Second
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = DefaultResultTimeout
	}
	if c.ConsumerAckTimeout <= 0 {
		c.ConsumerAckTimeout = 30 * time.Second
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = c.InnerTaskQueueLength
	}
	if c.DurableName == "" {
		c.DurableName = c.QueueName
	}
}

// Pool is the broker consumer: a fixed worker pool draining a bounded
// internal task channel fed by a durable JetStream pull consumer, with
// backpressure, reconnect/health handling and graceful shutdown.
type Pool struct {
	js        nats.JetStreamContext
	sub       *nats.Subscription
	runner    Runner
	publisher *Publisher
	health    *health.State
	cfg       Config
	logger    *slog.Logger

	taskCh chan *nats.Msg

	mu     sync.Mutex
	states map[int]workerState

	stop    chan struct{}
	done    chan struct{}
	drained chan struct{}
}

// NewPool binds a durable pull consumer to InboundSubject on js and
// returns a Pool ready for Run.
func NewPool(js nats.JetStreamContext, runner Runner, publisher *Publisher, healthState *health.State, cfg Config, logger *slog.Logger) (*Pool, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := js.StreamInfo(StreamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"task.>", "event.>"},
			Storage:  nats.FileStorage,
		}); err != nil {
			return nil, errs.New(errs.BrokerChannel, "create stream", err)
		}
	}

	sub, err := js.PullSubscribe(InboundSubject, cfg.DurableName,
		nats.ManualAck(),
		nats.MaxAckPending(cfg.PrefetchCount),
		nats.AckWait(cfg.ConsumerAckTimeout),
	)
	if err != nil {
		return nil, errs.New(errs.BrokerChannel, "bind durable pull consumer", err)
	}

	return &Pool{
		js:        js,
		sub:       sub,
		runner:    runner,
		publisher: publisher,
		health:    healthState,
		cfg:       cfg,
		logger:    logger,
		taskCh:    make(chan *nats.Msg, cfg.InnerTaskQueueLength),
		states:    make(map[int]workerState, cfg.Workers),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}, nil
}

// Run starts the puller and the fixed worker pool; it blocks until Stop is
// called (or ctx is cancelled) and the graceful-shutdown sequence
// completes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.pullLoop(ctx)
	}()

	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.setState(id, stateIdle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, id)
		}()
	}

	wg.Wait()
	close(p.done)
}

// Stop begins graceful shutdown: stop pulling new messages,
// wait up to WaitBeforeShutdown for the task channel to drain, then signal
// workers to exit by closing drained. The task channel itself is never
// closed; messages still queued when the deadline passes are not processed.
func (p *Pool) Stop() {
	close(p.stop)
	deadline := time.NewTimer(p.cfg.WaitBeforeShutdown)
	defer deadline.Stop()
	for {
		if len(p.taskCh) == 0 {
			close(p.drained)
			return
		}
		select {
		case <-deadline.C:
			p.logger.Warn("shutdown drain deadline reached with messages still queued", "remaining", len(p.taskCh))
			close(p.drained)
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Done is closed once Run has returned (all worker and puller goroutines
// exited).
func (p *Pool) Done() <-chan struct{} { return p.done }

func (p *Pool) setState(workerID int, s workerState) {
	p.mu.Lock()
	p.states[workerID] = s
	p.mu.Unlock()
}

// pullLoop is the backpressure-enforcing producer: it
// only issues a Fetch when the task channel has free capacity and the
// health flag is not set, so a saturated pool or a broken connection leaves
// messages on the broker rather than piling them up in memory.
func (p *Pool) pullLoop(ctx context.Context) {
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.health.Disconnected() {
			select {
			case <-time.After(time.Second):
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		if len(p.taskCh) >= cap(p.taskCh) {
			select {
			case <-time.After(20 * time.Millisecond):
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		msgs, err := p.sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			p.logger.Error("pull consumer fetch failed", "error", err)
			p.health.SetDisconnected(true)
			return
		}
		for _, msg := range msgs {
			// Auto-ack on read: acknowledged before
			// processing begins, so a process-level failure after this
			// point loses at most this one in-flight message. This
			// trade-off is accepted because retrievals are idempotent by
			// source_identifier.
			if err := msg.Ack(); err != nil {
				p.logger.Error("ack message", "error", err)
				p.health.SetDisconnected(true)
			}
			select {
			case p.taskCh <- msg:
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-p.drained:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-p.taskCh:
			if !ok {
				return
			}
			p.setState(id, stateProcessing)
			p.handle(ctx, msg)
			p.setState(id, stateIdle)
		}
	}
}

func (p *Pool) handle(ctx context.Context, msg *nats.Msg) {
	ctx, span := startMessageSpan(ctx, msg.Subject)

	inbound, err := DecodeInboundMessage(msg.Data)
	if err != nil {
		p.publisher.Publish(orchestrator.Event{Kind: orchestrator.EventRetrieval, Error: true, Message: "message decode failed: " + err.Error()})
		endMessageSpan(ctx, span, "decode_error", err)
		return
	}

	recognised := p.cfg.RecognisedIdentifiers
	entity, err := inbound.Entity(recognised)
	if err != nil {
		// InvalidEntity: publish a retrieval-error event
		// and drop the message. It is already acked, so there is nothing
		// further to drop.
		p.publisher.Publish(orchestrator.Event{Kind: orchestrator.EventRetrieval, Error: true, Message: err.Error()})
		endMessageSpan(ctx, span, "invalid_entity", err)
		return
	}

	options := inbound.Options()
	retrieval, err := p.runner.Register(ctx, entity, options)
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.DatabaseConnection || kind == errs.Unexpected {
			p.health.SetDisconnected(true)
		}
		p.publisher.Publish(orchestrator.Event{Kind: orchestrator.EventRetrieval, Error: true, Message: err.Error()})
		endMessageSpan(ctx, span, "register_error", err)
		return
	}
	endMessageSpan(ctx, span, "dispatched", nil)

	resultCh := make(chan orchestrator.Event, 10000) // MAX_EXPECTED_RESULTS
	runDone := make(chan error, 1)
	go func() {
		runDone <- p.runner.Run(ctx, retrieval, entity, resultCh)
	}()

	if !inbound.Reply {
		// Events are persisted by the recorder regardless of
		// reply. Without reply no results-listener (and no per-result
		// timeout) is spawned; each result is still published so callers
		// consume events via the durable stream, and draining here keeps
		// Run from blocking on a full channel with nobody reading it.
		for ev := range resultCh {
			p.publisher.Publish(ev)
		}
		<-runDone
		return
	}

	p.resultsListener(retrieval.ID, resultCh, runDone)
}

// resultsListener drains resultCh and publishes each result, applying the
// per-result DEFAULT_RESULT_TIMEOUT: if no result (and no
// channel close) arrives within the timeout, it publishes one
// Retrieval{error:true, message:"results timeout", id} event and stops
// waiting, regardless of whether Run has actually finished.
func (p *Pool) resultsListener(retrievalID string, resultCh <-chan orchestrator.Event, runDone <-chan error) {
	timer := time.NewTimer(p.cfg.ResultTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-resultCh:
			if !ok {
				<-runDone
				return
			}
			p.publisher.Publish(ev)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.cfg.ResultTimeout)
		case <-timer.C:
			p.publisher.Publish(orchestrator.Event{
				Kind:    orchestrator.EventRetrieval,
				Error:   true,
				Message: "results timeout",
				Retrieval: &types.Retrieval{ID: retrievalID},
			})
			return
		}
	}
}
