package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type failingRepo struct{ err error }

func (f failingRepo) Append(ctx context.Context, e Event) error { return f.err }

func TestService_AppendRequiresTenantCallAndKnownType(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)

	if err := svc.Append(context.Background(), Event{CallID: "c", Type: CallInitiated}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid without tenant, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t", Type: CallInitiated}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid without call, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t", CallID: "c", Type: "call_teleported"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid type, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t", CallID: "c", Type: CallEnded, Data: json.RawMessage(`{`)}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestService_StampsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(repo, nil).WithClock(func() time.Time { return now })

	svc.Emit(context.Background(), "t", "c", CallEnded, map[string]string{"reason": "hangup"})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || !evs[0].Timestamp.Equal(now) {
		t.Fatalf("expected id and timestamp stamped: %+v", evs[0])
	}
	if string(evs[0].Data) != `{"reason":"hangup"}` {
		t.Fatalf("unexpected data: %s", evs[0].Data)
	}
}

func TestService_EmitLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := NewService(failingRepo{err: errors.New("down")}, log)

	svc.Emit(context.Background(), "t", "c", CallInitiated, nil)

	if !strings.Contains(buf.String(), "event append failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestService_NilEmitIsNoop(t *testing.T) {
	var svc *Service
	svc.Emit(context.Background(), "t", "c", CallInitiated, nil)
}

func TestMultiRepo_AttemptsEveryRepository(t *testing.T) {
	a, b := NewMemoryRepo(), NewMemoryRepo()
	boom := errors.New("boom")
	m := MultiRepo{a, failingRepo{err: boom}, nil, b}

	err := m.Append(context.Background(), Event{ID: "1", TenantID: "t", CallID: "c", Type: CallRinging})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both memory repos to receive the event")
	}
}

func TestMemoryRepo_Types(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	svc.Emit(context.Background(), "t", "c1", CallInitiated, nil)
	svc.Emit(context.Background(), "t", "c2", CallInitiated, nil)
	svc.Emit(context.Background(), "t", "c1", CallRinging, nil)

	got := repo.Types("c1")
	if len(got) != 2 || got[0] != CallInitiated || got[1] != CallRinging {
		t.Fatalf("unexpected types: %v", got)
	}
}

func TestRedisRepo_Channel(t *testing.T) {
	r := NewRedisRepo(nil, "")
	if r.Channel("t1") != "call_events:t1" {
		t.Fatalf("unexpected channel %q", r.Channel("t1"))
	}
	if err := r.Append(context.Background(), Event{TenantID: "t1"}); err == nil {
		t.Fatalf("expected error with nil client")
	}
}

func TestLogRepo_WritesDebugLine(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewService(NewLogRepo(l), nil)
	if err := s.Append(context.Background(), Event{TenantID: "t1", CallID: "c1", Type: CallEnded}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !strings.Contains(buf.String(), `"event_type":"call_ended"`) {
		t.Fatalf("expected event in log, got %s", buf.String())
	}
}
