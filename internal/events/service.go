package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only.
// No Update/Delete/Read methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service stamps and appends call events.
//
// Callers on the call path use Emit, which logs failures instead of returning them.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

var ErrInvalidEvent = errors.New("events: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("events: repository not configured")
	}
	if e.TenantID == "" || e.CallID == "" {
		return fmt.Errorf("%w: tenant_id and call_id required", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return fmt.Errorf("%w: data is not valid json", ErrInvalidEvent)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Emit appends an event built from data, which is marshalled to JSON. Failures are logged.
func (s *Service) Emit(ctx context.Context, tenantID, callID string, typ Type, data any) {
	if s == nil {
		return
	}
	e := Event{TenantID: tenantID, CallID: callID, Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.Warn("event data marshal failed", "call_id", callID, "event_type", typ, "err", err)
			return
		}
		e.Data = raw
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("event append failed", "tenant_id", tenantID, "call_id", callID, "event_type", typ, "err", err)
	}
}
