package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"contact-center/internal/calls"
	"contact-center/internal/events"
	"contact-center/internal/queue"
	"contact-center/internal/routing"
	"contact-center/internal/signaling"
)

var (
	ErrCallNotFound     = errors.New("orchestrator: call not found")
	ErrInvalidArgument  = errors.New("orchestrator: invalid argument")
	ErrCapacityExceeded = errors.New("orchestrator: connection capacity exceeded")
)

// Recorder persists call snapshots. Implementations must tolerate out-of-order writes for
// the same call by keeping the most recently updated snapshot.
type Recorder interface {
	Record(ctx context.Context, c calls.Call) error
}

// Limiter caps open signaling connections per tenant.
type Limiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// Options tune time-based behaviour. Zero durations disable the matching reaper step.
type Options struct {
	HandshakeTimeout time.Duration
	QueueMaxWait     time.Duration
	CallRetention    time.Duration
}

type Deps struct {
	Recorder Recorder
	Events   *events.Service
	Queue    *queue.Manager
	Engine   *signaling.Engine
	Matcher  *routing.Matcher

	// Limiter is optional.
	Limiter Limiter
	Log     *slog.Logger
}

// Service coordinates call creation, queueing, routing and signaling.
//
// Live calls are held in memory; the Recorder receives a snapshot after every change.
// Each call has its own mutex. It is never held across Recorder, event, queue, engine or
// limiter calls.
type Service struct {
	recorder Recorder
	events   *events.Service
	queue    *queue.Manager
	engine   *signaling.Engine
	matcher  *routing.Matcher
	limiter  Limiter
	log      *slog.Logger
	opts     Options

	mu    sync.RWMutex
	calls map[string]*callRecord

	clock func() time.Time
	newID func() string
}

type callRecord struct {
	mu   sync.Mutex
	call calls.Call
	// slotHeld is set while the call owns a Limiter slot.
	slotHeld bool
	// agentClaimed is set while call.AgentID holds a directory claim.
	agentClaimed bool
}

func NewService(d Deps, opts Options) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		recorder: d.Recorder,
		events:   d.Events,
		queue:    d.Queue,
		engine:   d.Engine,
		matcher:  d.Matcher,
		limiter:  d.Limiter,
		log:      log,
		opts:     opts,
		calls:    map[string]*callRecord{},
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) get(callID string) (*callRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.calls[callID]
	return rec, ok
}

func (s *Service) snapshot(rec *callRecord) calls.Call {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.call.Clone()
}

// record persists a post-creation update. The in-memory transition has already happened,
// so a failure is logged rather than returned.
func (s *Service) record(ctx context.Context, c calls.Call) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, c); err != nil {
		s.log.Error("call record failed", "tenant_id", c.TenantID, "call_id", c.ID, "status", c.Status, "err", err)
	}
}

type CreateRequest struct {
	TenantID      string
	Direction     calls.Direction
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Tags          []string
	Metadata      json.RawMessage
}

// CreateCall builds a ringing call, persists it, queues it and emits call_initiated.
func (s *Service) CreateCall(ctx context.Context, req CreateRequest) (calls.Call, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return calls.Call{}, fmt.Errorf("%w: tenant_id required", ErrInvalidArgument)
	}
	if !req.Direction.Valid() {
		return calls.Call{}, fmt.Errorf("%w: direction must be inbound or outbound", ErrInvalidArgument)
	}
	if len(req.Metadata) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(req.Metadata, &obj); err != nil {
			return calls.Call{}, fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidArgument)
		}
	}

	now := s.now()
	c := calls.Call{
		ID:            s.newID(),
		TenantID:      req.TenantID,
		Direction:     req.Direction,
		Status:        calls.StatusRinging,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Tags:          calls.NormalizeTags(req.Tags),
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, c); err != nil {
			return calls.Call{}, fmt.Errorf("orchestrator: persist call: %w", err)
		}
	}

	s.mu.Lock()
	s.calls[c.ID] = &callRecord{call: c.Clone()}
	s.mu.Unlock()

	entry := s.queue.Enqueue(c)
	s.events.Emit(ctx, c.TenantID, c.ID, events.CallInitiated, map[string]any{
		"direction":       c.Direction,
		"priority":        entry.Priority,
		"required_skills": entry.RequiredSkills,
	})
	s.log.Info("call created", "tenant_id", c.TenantID, "call_id", c.ID, "direction", c.Direction, "priority", entry.Priority)
	return c, nil
}

// GetCall returns a snapshot of a live or recently finished call.
func (s *Service) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	rec, ok := s.get(callID)
	if !ok {
		return calls.Call{}, ErrCallNotFound
	}
	return s.snapshot(rec), nil
}

func (s *Service) QueueStats(tenantID string) queue.Stats {
	return s.queue.Stats(tenantID)
}

// EndCall ends the call. It is idempotent: ending a finished call returns it unchanged.
func (s *Service) EndCall(ctx context.Context, callID, reason string) (calls.Call, error) {
	if reason == "" {
		reason = "hangup"
	}
	c, _, err := s.finish(ctx, callID, calls.StatusEnded, reason)
	return c, err
}

// finish moves a call to a terminal status and releases everything it holds: queue entry,
// signaling connection, limiter slot and the agent claim. changed reports whether this call performed the
// transition; cleanup runs either way.
func (s *Service) finish(ctx context.Context, callID string, status calls.Status, reason string) (c calls.Call, changed bool, err error) {
	rec, ok := s.get(callID)
	if !ok {
		return calls.Call{}, false, ErrCallNotFound
	}

	now := s.now()
	rec.mu.Lock()
	if !rec.call.Status.Terminal() {
		rec.call.Status = status
		rec.call.EndedAt = &now
		rec.call.UpdatedAt = now
		changed = true
	}
	held := rec.slotHeld
	rec.slotHeld = false
	claimed := rec.agentClaimed
	rec.agentClaimed = false
	c = rec.call.Clone()
	rec.mu.Unlock()

	s.queue.Remove(c.TenantID, c.ID)
	s.engine.Close(c.ID)
	if held {
		s.releaseSlot(ctx, c.TenantID, c.ID)
	}
	if claimed {
		s.matcher.ReleaseAgent(ctx, c.TenantID, c.AgentID, c.AnsweredAt != nil)
	}
	if !changed {
		return c, false, nil
	}

	s.record(ctx, c)
	data := map[string]any{"reason": reason, "status": c.Status}
	if c.AnsweredAt != nil {
		data["duration_seconds"] = int64(now.Sub(*c.AnsweredAt) / time.Second)
	}
	s.events.Emit(ctx, c.TenantID, c.ID, events.CallEnded, data)
	s.log.Info("call finished", "tenant_id", c.TenantID, "call_id", c.ID, "status", c.Status, "reason", reason)
	return c, true, nil
}

func (s *Service) acquireSlot(ctx context.Context, tenantID string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Acquire(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("orchestrator: acquire connection slot: %w", err)
	}
	if !ok {
		return ErrCapacityExceeded
	}
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, tenantID, callID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Release(ctx, tenantID); err != nil {
		s.log.Warn("connection slot release failed", "tenant_id", tenantID, "call_id", callID, "err", err)
	}
}
