// Package sim drives a feed through the slot pipeline: load the next
// snapshot, advance the assignment store, detect remappings, resolve
// the controller hierarchy, and emit flow directives. One Runner owns
// one run from its first slot to termination.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sagin-domain-engine/core"
	"github.com/signalsfoundry/sagin-domain-engine/internal/journal"
	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/internal/sbi"
	"github.com/signalsfoundry/sagin-domain-engine/model"
	"github.com/signalsfoundry/sagin-domain-engine/timectrl"
)

const tracerName = "github.com/signalsfoundry/sagin-domain-engine/internal/sim"

// ErrRunTerminated is returned by Step once the run has terminated,
// whether by exhausting the feed, a fatal error, or Terminate.
var ErrRunTerminated = errors.New("run terminated")

// Phase is the runner's lifecycle state.
type Phase int

const (
	// PhaseIdle means no slot has been processed yet.
	PhaseIdle Phase = iota
	// PhaseSlotActive means a slot has been installed and is current.
	PhaseSlotActive
	// PhaseAdvancing is the transient state while the store swaps slots.
	PhaseAdvancing
	// PhaseTerminated is final; a terminated runner rejects further steps.
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseSlotActive:
		return "SLOT_ACTIVE"
	case PhaseAdvancing:
		return "ADVANCING"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "IDLE"
	}
}

// MetricsRecorder receives per-slot statistics. Implemented by
// observability.EngineCollector; tests install lighter recorders.
type MetricsRecorder interface {
	RecordSlot(slot, nodes, domains, remaps int, inconsistent bool)
	RecordEmission(directives, flowRules int)
	ObserveSlotDuration(d time.Duration)
}

// Runner executes one run over a slot feed. All methods are safe for
// concurrent use; Step itself is serialised by the runner's lock.
type Runner struct {
	mu    sync.Mutex
	feed  *core.SlotFeed
	store *core.AssignmentStore

	runID    string
	feedName string
	phase    Phase
	next     int
	maxSlots int

	log      logging.Logger
	recorder MetricsRecorder
	journal  *journal.Store
	sink     sbi.DirectiveSink

	metrics []model.SlotMetrics
	events  []model.RemapEvent
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// WithFeedName labels the run with its feed source for journalling.
func WithFeedName(name string) Option {
	return func(r *Runner) { r.feedName = name }
}

// WithMaxSlots caps the run at n slots even when the feed carries more.
// Zero or negative means no cap.
func WithMaxSlots(n int) Option {
	return func(r *Runner) { r.maxSlots = n }
}

// WithMetricsRecorder wires a per-slot metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithJournal persists slot metrics and remap events to store.
func WithJournal(store *journal.Store) Option {
	return func(r *Runner) { r.journal = store }
}

// WithSink delivers each slot's directives to sink.
func WithSink(sink sbi.DirectiveSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// NewRunner creates an idle runner over feed.
func NewRunner(feed *core.SlotFeed, opts ...Option) *Runner {
	r := &Runner{
		feed:  feed,
		store: core.NewAssignmentStore(),
		runID: uuid.NewString(),
		phase: PhaseIdle,
		next:  1,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the run's identifier.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Phase returns the current lifecycle phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CurrentSlot returns the slot resident in the store, 0 before the
// first completed step.
func (r *Runner) CurrentSlot() int {
	return r.store.CurrentSlot()
}

// Store exposes the assignment store for read-side consumers.
func (r *Runner) Store() *core.AssignmentStore {
	return r.store
}

// totalSlots is the effective slot budget after the optional cap.
// Callers hold r.mu or rely on maxSlots being set only at construction.
func (r *Runner) totalSlots() int {
	total := r.feed.TotalSlots()
	if r.maxSlots > 0 && r.maxSlots < total {
		total = r.maxSlots
	}
	return total
}

// Metrics returns a copy of the per-slot records accumulated so far.
func (r *Runner) Metrics() []model.SlotMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SlotMetrics, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Events returns a copy of every remap event detected so far.
func (r *Runner) Events() []model.RemapEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RemapEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Summary aggregates the metrics accumulated so far.
func (r *Runner) Summary() model.RunSummary {
	return Summarize(r.Metrics())
}

// Terminate moves the runner to its final phase. Idempotent; a
// subsequent Step reports ErrRunTerminated.
func (r *Runner) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseTerminated
}

// Step processes the next slot at simulation time at. It returns true
// when a slot was processed, and false with a nil error when the feed
// is exhausted (the runner terminates). Malformed slot data and store
// violations are fatal: the runner terminates and the error is
// returned. A hierarchy inconsistency only flags the slot; assignments
// still advance and no directives are emitted.
func (r *Runner) Step(ctx context.Context, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseTerminated {
		return false, fmt.Errorf("Runner.Step: %w", ErrRunTerminated)
	}
	slot := r.next
	if slot > r.totalSlots() {
		r.phase = PhaseTerminated
		return false, nil
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Engine/ProcessSlot",
		trace.WithAttributes(
			attribute.String("run_id", r.runID),
			attribute.Int("slot", slot),
		),
	)
	defer span.End()
	start := time.Now()

	// Phase spans all parent onto the slot span, not each other.
	_, loadSpan := tracer.Start(ctx, "Engine/LoadSlot")
	snap, err := r.feed.Snapshot(slot, at)
	if err != nil {
		loadSpan.RecordError(err)
		loadSpan.End()
		r.phase = PhaseTerminated
		span.RecordError(err)
		r.log.Error(ctx, "slot data malformed; aborting run",
			logging.Int("slot", slot), logging.Err(err))
		return false, fmt.Errorf("Runner.Step: %w", err)
	}

	r.phase = PhaseAdvancing
	if err := r.store.Advance(snap); err != nil {
		loadSpan.RecordError(err)
		loadSpan.End()
		r.phase = PhaseTerminated
		span.RecordError(err)
		return false, fmt.Errorf("Runner.Step: %w", err)
	}
	curr, prev := r.store.Window()
	loadSpan.End()

	_, detectSpan := tracer.Start(ctx, "Engine/DetectRemaps")
	events := core.DetectRemaps(prev, curr)
	detectSpan.SetAttributes(attribute.Int("remappings", len(events)))
	detectSpan.End()
	r.events = append(r.events, events...)
	for _, ev := range events {
		r.log.Info(ctx, "controller remapped",
			logging.Int("slot", ev.Slot),
			logging.Int("node", ev.NodeID),
			logging.Int("prev_controller", ev.PrevController),
			logging.Int("new_controller", ev.NewController),
		)
	}

	var (
		directives []model.FlowDirective
		flagged    bool
		detail     string
	)
	_, resolveSpan := tracer.Start(ctx, "Engine/ResolveHierarchy")
	hier, herr := core.ResolveHierarchy(curr)
	if herr != nil {
		resolveSpan.RecordError(herr)
	}
	resolveSpan.End()
	if herr != nil {
		flagged = true
		detail = herr.Error()
		span.RecordError(herr)
		r.log.Warn(ctx, "hierarchy inconsistent; slot flagged",
			logging.Int("slot", slot), logging.Err(herr))
	} else {
		_, emitSpan := tracer.Start(ctx, "Engine/EmitFlowPolicies")
		directives = core.EmitFlowPolicies(curr, hier)
		emitSpan.SetAttributes(attribute.Int("directives", len(directives)))
		emitSpan.End()

		if r.sink != nil {
			installCtx, installSpan := tracer.Start(ctx, "Engine/InstallDirectives")
			if err := r.sink.Install(installCtx, slot, directives); err != nil {
				installSpan.RecordError(err)
				r.log.Error(ctx, "directive installation failed",
					logging.Int("slot", slot), logging.Err(err))
			}
			installSpan.End()
		}
	}

	flowRules := 0
	for _, d := range directives {
		flowRules += len(d.Rules)
	}
	m := model.SlotMetrics{
		Slot:         slot,
		Timestamp:    at,
		Nodes:        curr.NodeCount(),
		Domains:      curr.DomainCount(),
		Remaps:       len(events),
		Directives:   len(directives),
		FlowRules:    flowRules,
		Inconsistent: flagged,
		Detail:       detail,
	}
	r.metrics = append(r.metrics, m)
	r.journalSlot(ctx, m, events)

	if r.recorder != nil {
		r.recorder.RecordSlot(slot, m.Nodes, m.Domains, m.Remaps, flagged)
		r.recorder.RecordEmission(m.Directives, m.FlowRules)
		r.recorder.ObserveSlotDuration(time.Since(start))
	}
	span.SetAttributes(
		attribute.Int("nodes", m.Nodes),
		attribute.Int("domains", m.Domains),
		attribute.Int("remappings", m.Remaps),
		attribute.Int("flow_rules", m.FlowRules),
		attribute.Bool("inconsistent", flagged),
	)
	r.log.Info(ctx, "slot processed",
		logging.Int("slot", slot),
		logging.Int("nodes", m.Nodes),
		logging.Int("domains", m.Domains),
		logging.Int("remappings", m.Remaps),
		logging.Int("directives", m.Directives),
		logging.Int("flow_rules", m.FlowRules),
	)

	r.phase = PhaseSlotActive
	r.next++
	return true, nil
}

// journalSlot writes the slot record and its remap events; persistence
// failures are logged, not fatal.
func (r *Runner) journalSlot(ctx context.Context, m model.SlotMetrics, events []model.RemapEvent) {
	if r.journal == nil {
		return
	}
	if err := r.journal.AppendSlot(r.runID, m); err != nil {
		r.log.Error(ctx, "journal slot append failed",
			logging.Int("slot", m.Slot), logging.Err(err))
	}
	if err := r.journal.AppendRemaps(r.runID, events); err != nil {
		r.log.Error(ctx, "journal remap append failed",
			logging.Int("slot", m.Slot), logging.Err(err))
	}
}

// Run drives the runner off tc's tick listener until the feed is
// exhausted, a fatal error occurs, or ctx is cancelled. It registers
// the run in the journal, processes every slot, and finalises the
// journal record before returning.
func (r *Runner) Run(ctx context.Context, tc *timectrl.TimeController) error {
	started := time.Now().UTC()
	if r.journal != nil {
		if err := r.journal.BeginRun(r.runID, r.feedName, started); err != nil {
			return fmt.Errorf("Runner.Run: %w", err)
		}
	}
	r.log.Info(ctx, "run started",
		logging.String("run_id", r.runID),
		logging.Int("total_slots", r.totalSlots()),
	)

	var (
		errMu  sync.Mutex
		runErr error
	)
	tc.AddListener(func(simTime time.Time) {
		if ctx.Err() != nil {
			r.Terminate()
			tc.Stop()
			return
		}
		ok, err := r.Step(ctx, simTime)
		if err != nil && !errors.Is(err, ErrRunTerminated) {
			errMu.Lock()
			runErr = err
			errMu.Unlock()
			tc.Stop()
			return
		}
		if !ok {
			tc.Stop()
		}
	})

	// One spare tick so the exhausted-feed step can terminate the run.
	budget := time.Duration(r.totalSlots()+1) * tc.Tick
	<-tc.Start(budget)

	r.Terminate()
	summary := r.Summary()
	if r.journal != nil {
		if err := r.journal.FinishRun(r.runID, time.Now().UTC(), summary); err != nil {
			r.log.Error(ctx, "journal finish failed", logging.Err(err))
		}
	}

	errMu.Lock()
	err := runErr
	errMu.Unlock()
	if err != nil {
		r.log.Error(ctx, "run aborted",
			logging.String("run_id", r.runID),
			logging.Int("slots_completed", summary.Slots),
			logging.Err(err),
		)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.log.Warn(ctx, "run cancelled",
			logging.String("run_id", r.runID),
			logging.Int("slots_completed", summary.Slots),
		)
		return ctxErr
	}
	r.log.Info(ctx, "run complete",
		logging.String("run_id", r.runID),
		logging.Int("slots", summary.Slots),
		logging.Int("total_remappings", summary.TotalRemaps),
		logging.Int("inconsistent_slots", summary.InconsistentSlots),
		logging.Int("total_flow_rules", summary.TotalFlowRules),
	)
	return nil
}
