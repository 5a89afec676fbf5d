// Package sbi carries flow directives south from the slot engine to the
// control plane. Sinks are the pluggable last hop: the runner emits one
// ordered batch of directives per slot and hands it to whichever sink
// the deployment wires in.
package sbi

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// DirectiveSink installs one slot's directives into a control plane.
// Install is called at most once per slot, with directives ordered by
// domain id. Implementations must tolerate repeated delivery of the
// same batch: directives are idempotent units.
type DirectiveSink interface {
	Install(ctx context.Context, slot int, directives []model.FlowDirective) error
}

// LogSink writes each installation to the structured log and discards
// the directives. It is the default sink when no control plane is
// configured.
type LogSink struct {
	log logging.Logger
}

// NewLogSink creates a sink that logs installations via log.
func NewLogSink(log logging.Logger) *LogSink {
	if log == nil {
		log = logging.Noop()
	}
	return &LogSink{log: log}
}

// Install logs a one-line summary per directive.
func (s *LogSink) Install(ctx context.Context, slot int, directives []model.FlowDirective) error {
	rules := 0
	for _, d := range directives {
		rules += len(d.Rules)
	}
	s.log.Info(ctx, "directives installed",
		logging.Int("slot", slot),
		logging.Int("directives", len(directives)),
		logging.Int("flow_rules", rules),
	)
	for _, d := range directives {
		s.log.Debug(ctx, "directive",
			logging.Int("slot", slot),
			logging.Int("domain", d.DomainID),
			logging.Int("controller", d.ControllerID),
			logging.Int("master", d.MasterID),
			logging.Int("members", len(d.Members)),
			logging.Int("rules", len(d.Rules)),
		)
	}
	return nil
}

// Installation is one recorded Install call.
type Installation struct {
	Slot       int
	Directives []model.FlowDirective
}

// RecordingSink is a thread-safe in-memory sink that retains every
// installation for later inspection. It backs unit tests and the
// engine's metrics export.
type RecordingSink struct {
	mu      sync.Mutex
	history []Installation
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Install records the batch.
func (s *RecordingSink) Install(_ context.Context, slot int, directives []model.FlowDirective) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Installation{Slot: slot, Directives: directives})
	return nil
}

// Installations returns a copy of everything recorded so far, in call order.
func (s *RecordingSink) Installations() []Installation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Installation, len(s.history))
	copy(out, s.history)
	return out
}

// Reset discards the recorded history.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// MultiSink fans one installation out to several sinks in order. Every
// sink sees the batch even when an earlier one fails; the combined
// error is returned.
type MultiSink struct {
	sinks []DirectiveSink
}

// NewMultiSink creates a fan-out sink over the given sinks. Nil entries
// are skipped.
func NewMultiSink(sinks ...DirectiveSink) *MultiSink {
	kept := make([]DirectiveSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

// Install delivers the batch to every sink.
func (s *MultiSink) Install(ctx context.Context, slot int, directives []model.FlowDirective) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Install(ctx, slot, directives); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
