// ABOUTME: Fire-and-forget audit event sinks
// ABOUTME: Fans out issuance activity to the store, the log, and listeners like the audit room

package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/keydrop/internal/store"
)

// Event is one auditable occurrence: an issuance, a revocation, an upload,
// an empty-pool hit, or a failure worth an operator's attention.
type Event struct {
	Action      store.AuditAction
	ActorID     string
	ActorHandle string
	TargetID    string
	Detail      map[string]any
}

// Sink receives audit events. Delivery is best effort: implementations
// must swallow their own failures so the primary operation never fails or
// blocks because of auditing.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Fanout returns a Sink that forwards each event to every given sink in
// order. Nil sinks are skipped.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			s.Emit(ctx, ev)
		}
	})
}

// Slot is a Sink whose target can be set after construction. Events
// emitted before Set are dropped. It exists because the issuer needs its
// sinks at construction time but some sinks (the Matrix audit room) need
// the issuer first.
type Slot struct {
	mu     sync.RWMutex
	target Sink
}

// Set points the slot at a sink. Safe to call concurrently with Emit.
func (s *Slot) Set(target Sink) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Emit forwards to the current target, if any.
func (s *Slot) Emit(ctx context.Context, ev Event) {
	s.mu.RLock()
	target := s.target
	s.mu.RUnlock()
	if target != nil {
		target.Emit(ctx, ev)
	}
}

// StoreSink persists events as audit log rows. Append failures are logged
// and dropped.
type StoreSink struct {
	store  store.AuditStore
	logger *slog.Logger
}

// NewStoreSink creates a StoreSink writing to the given audit store.
func NewStoreSink(s store.AuditStore, logger *slog.Logger) *StoreSink {
	return &StoreSink{
		store:  s,
		logger: logger.With("component", "audit"),
	}
}

// Emit appends the event to the audit log, best effort.
func (s *StoreSink) Emit(ctx context.Context, ev Event) {
	entry := &store.AuditEntry{
		ActorID:     ev.ActorID,
		ActorHandle: ev.ActorHandle,
		Action:      ev.Action,
		TargetID:    ev.TargetID,
		Detail:      ev.Detail,
	}
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry", "action", ev.Action, "error", err)
	}
}

// LogSink emits events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

// Emit logs the event.
func (s *LogSink) Emit(ctx context.Context, ev Event) {
	s.logger.Info("audit event",
		"action", ev.Action,
		"actor", ev.ActorID,
		"target", ev.TargetID,
	)
}
