package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/fingerprint"
	"github.com/jdp1ps/svp-harvester-go/internal/harvester"
	"github.com/jdp1ps/svp-harvester-go/internal/reconcile"
	"github.com/jdp1ps/svp-harvester-go/internal/recorder"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Clock is injected so tests can control Retrieval/Harvesting timestamps.
type Clock func() time.Time

// Orchestrator drives retrievals. One Orchestrator serves every retrieval;
// per-retrieval state (the reconciliation cache, the recorder's seen set)
// lives on the call stack of Register/Run, never on the Orchestrator value
// itself, so concurrent retrievals never share mutable state.
type Orchestrator struct {
	store        Store
	registry     *harvester.Registry
	reconcileDB  reconcile.Store
	dereferencer reconcile.ConceptDereferencer
	recorderDB   recorder.Store

	configsMu sync.RWMutex
	configs   []harvester.Config

	// MaxSUDOCParallelism bounds concurrent secondary-source fan-out
	// within one SecondaryFetcher-capable adapter.
	MaxSUDOCParallelism int64

	// MaxConvertAttempts / ConvertRetryInterval parameterise the
	// transient-error retry policy applied around each adapter's Convert.
	MaxConvertAttempts   uint64
	ConvertRetryInterval time.Duration

	// ConceptLanguages is the ordered label-language preference applied
	// when reconciling Concepts.
	ConceptLanguages []string

	Clock  Clock
	Logger *slog.Logger
}

// New builds an Orchestrator. configs is the `harvesters` config list; it
// is validated against registry at construction so an
// unknown name fails at startup, not at the first retrieval.
func New(store Store, registry *harvester.Registry, reconcileDB reconcile.Store, dereferencer reconcile.ConceptDereferencer, recorderDB recorder.Store, configs []harvester.Config) (*Orchestrator, error) {
	if err := registry.ValidateConfigNames(configs); err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:                store,
		registry:             registry,
		reconcileDB:          reconcileDB,
		dereferencer:         dereferencer,
		recorderDB:           recorderDB,
		configs:              configs,
		MaxSUDOCParallelism:  3,
		MaxConvertAttempts:   3,
		ConvertRetryInterval: 200 * time.Millisecond,
		Clock:                time.Now,
		Logger:               slog.Default(),
	}, nil
}

// Configs returns the currently active `harvesters` config list.
func (o *Orchestrator) Configs() []harvester.Config {
	o.configsMu.RLock()
	defer o.configsMu.RUnlock()
	return o.configs
}

// SetConfigs swaps the active `harvesters` config list, validating every
// name against the registry before taking effect. A hot reload of
// harvesters.toml (config.WatchHarvesters) calls this; an invalid
// edit is rejected and logged, leaving the previously active list in
// effect, the same fail-safe posture WatchHarvesters itself applies to
// decode errors.
func (o *Orchestrator) SetConfigs(configs []harvester.Config) error {
	if err := o.registry.ValidateConfigNames(configs); err != nil {
		return err
	}
	o.configsMu.Lock()
	o.configs = configs
	o.configsMu.Unlock()
	return nil
}

// Register resolves or creates the entity and creates a Retrieval row. It
// never fails for lookup reasons: entity resolution either finds or
// creates, so resolution errors are the only failure mode.
func (o *Orchestrator) Register(ctx context.Context, entity types.Entity, options types.RetrievalOptions) (types.Retrieval, error) {
	rc := reconcile.New(o.reconcileDB, o.dereferencer, options.IdentifiersSafeMode)
	rc.Languages = o.ConceptLanguages
	resolved, err := rc.ResolveEntity(ctx, entity, options.Nullify)
	if err != nil {
		return types.Retrieval{}, err
	}

	retrieval := types.Retrieval{
		ID:        newID("retrieval"),
		EntityID:  resolved.ID,
		Timestamp: o.Clock(),
		Options:   options,
	}
	return o.store.CreateRetrieval(ctx, retrieval)
}

// Run launches every relevant adapter in parallel (unbounded among
// adapters of a single retrieval) and streams
// Retrieval/Harvesting/ReferenceEvent results through resultCh. Run
// resolves when every adapter task has terminated; resultCh is closed
// before returning. Cancelling ctx propagates cooperatively to every
// adapter task.
func (o *Orchestrator) Run(ctx context.Context, retrieval types.Retrieval, entity types.Entity, resultCh chan<- Event) error {
	defer close(resultCh)

	resultCh <- retrievalEvent(retrieval)

	adapters, err := o.registry.InstantiateRelevant(o.Configs(), entity, retrieval.Options.Harvesters)
	if err != nil {
		resultCh <- retrievalErrorEvent(err.Error(), nil)
		return err
	}

	// A plain errgroup (no WithContext) is used purely for goroutine
	// lifecycle/wait: one adapter's failure must not cancel the others, so
	// every task function swallows its own error into the Harvesting row
	// and always returns nil.
	var g errgroup.Group
	for _, adapter := range adapters {
		adapter := adapter
		g.Go(func() error {
			o.runAdapter(ctx, retrieval, entity, adapter, resultCh)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (o *Orchestrator) runAdapter(ctx context.Context, retrieval types.Retrieval, entity types.Entity, adapter harvester.Adapter, resultCh chan<- Event) {
	ctx, span := startAdapterSpan(ctx, adapter.Name())

	harvesting := types.Harvesting{
		ID:          newID("harvesting"),
		RetrievalID: retrieval.ID,
		Harvester:   adapter.Name(),
		State:       types.HarvestingIdle,
		Timestamp:   o.Clock(),
	}
	harvesting, err := o.store.CreateHarvesting(ctx, harvesting)
	if err != nil {
		o.Logger.Error("create harvesting row failed", "harvester", adapter.Name(), "error", err)
		endAdapterSpan(span, true)
		return
	}

	_ = harvesting.Transition(types.HarvestingRunning)
	_ = o.store.UpdateHarvesting(ctx, harvesting)
	resultCh <- harvestingEvent(harvesting)

	rc := reconcile.New(o.reconcileDB, o.dereferencer, retrieval.Options.IdentifiersSafeMode)
	rc.Languages = o.ConceptLanguages
	rec := recorder.New(o.recorderDB, adapter.Name(), harvesting.ID)

	fetchEntity := entity
	fetchEntity.Identifiers = types.WithoutTypes(entity.Identifiers, retrieval.Options.Nullify)
	failed := o.drainAdapter(ctx, adapter, rc, rec, retrieval, fetchEntity, &harvesting, resultCh)

	if deleted, ferr := rec.Finalize(ctx); ferr != nil {
		harvesting.AddError(string(errs.KindOf(ferr)), ferr.Error(), o.Clock())
		failed = true
	} else {
		for _, ev := range deleted {
			recordReferenceEvent(ctx, adapter.Name(), ev)
			if retrieval.Options.WantsEvent(ev.Type) {
				resultCh <- referenceEvent(ev)
			}
		}
	}

	if failed {
		_ = harvesting.Transition(types.HarvestingFailed)
	} else {
		_ = harvesting.Transition(types.HarvestingCompleted)
	}
	_ = o.store.UpdateHarvesting(ctx, harvesting)
	resultCh <- harvestingEvent(harvesting)
	endAdapterSpan(span, failed)
}

// drainAdapter runs the fetch->convert->record pipeline in the order the
// adapter yields records, converting with the transient-retry policy and
// classifying failures by kind.
func (o *Orchestrator) drainAdapter(ctx context.Context, adapter harvester.Adapter, rc *reconcile.Context, rec *recorder.Recorder, retrieval types.Retrieval, entity types.Entity, harvesting *types.Harvesting, resultCh chan<- Event) bool {
	// A SecondaryFetcher-capable adapter calls orchestrator.CallSecondary
	// from within Fetch to enrich records; the semaphore bound must be on
	// the context before Fetch captures it, so every such adapter shares
	// the same limit.
	if _, ok := adapter.(harvester.SecondaryFetcher); ok {
		limit := o.MaxSUDOCParallelism
		if limit <= 0 {
			limit = 3
		}
		ctx = withSecondarySemaphore(ctx, semaphore.NewWeighted(limit))
	}

	rawCh, errCh := adapter.Fetch(ctx, entity)
	failed := false

	for {
		select {
		case <-ctx.Done():
			harvesting.AddError(string(errs.Unexpected), ctx.Err().Error(), o.Clock())
			return true
		case raw, ok := <-rawCh:
			if !ok {
				rawCh = nil
				if errCh == nil {
					return failed
				}
				continue
			}
			ref, err := harvester.ConvertWithRetry(ctx, adapter, raw, rc, o.MaxConvertAttempts, o.ConvertRetryInterval)
			if err != nil {
				// Record-level failures skip the record and continue the
				// adapter; they do not fail the harvesting.
				harvesting.AddError(string(errs.KindOf(err)), err.Error(), o.Clock())
				continue
			}
			if ref.Hash == "" {
				ref.Hash = fingerprint.Hash(adapter.Name(), adapter.Version(), adapter.HashKeys(adapter.Version()), raw)
			}
			ev, rerr := rec.Record(ctx, ref)
			if rerr != nil {
				harvesting.AddError(string(errs.KindOf(rerr)), rerr.Error(), o.Clock())
				failed = true
				continue
			}
			if ev != nil {
				recordReferenceEvent(ctx, adapter.Name(), *ev)
				if retrieval.Options.WantsEvent(ev.Type) {
					resultCh <- referenceEvent(*ev)
				}
			}
		case fetchErr, ok := <-errCh:
			if !ok {
				errCh = nil
				if rawCh == nil {
					return failed
				}
				continue
			}
			if fetchErr != nil {
				harvesting.AddError(string(errs.KindOf(fetchErr)), fetchErr.Error(), o.Clock())
				failed = true
			}
		}
	}
}
