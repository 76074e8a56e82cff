package orchestrator

import (
	"context"
	"time"

	"contact-center/internal/calls"
	"contact-center/internal/signaling"
)

// ReapReport counts what one reaper pass did.
type ReapReport struct {
	FailedHandshakes int `json:"failed_handshakes"`
	MissedCalls      int `json:"missed_calls"`
	PurgedConns      int `json:"purged_connections"`
	PurgedCalls      int `json:"purged_calls"`
}

// ReapStale fails handshakes stuck in connecting, marks calls missed after waiting too long
// in the queue, and forgets finished state older than the retention windows.
func (s *Service) ReapStale(ctx context.Context) ReapReport {
	now := s.now()
	var rep ReapReport

	if s.opts.HandshakeTimeout > 0 {
		cutoff := now.Add(-s.opts.HandshakeTimeout)
		for _, conn := range s.engine.Stalled(cutoff) {
			if _, err := s.engine.MarkState(conn.CallID, signaling.StateFailed); err != nil {
				s.log.Debug("stalled connection moved on", "call_id", conn.CallID, "err", err)
				continue
			}
			if _, changed, err := s.finish(ctx, conn.CallID, calls.StatusFailed, "handshake_timeout"); err != nil {
				s.engine.Close(conn.CallID)
			} else if changed {
				rep.FailedHandshakes++
			}
		}
		rep.PurgedConns = s.engine.Purge(cutoff)
	}

	if s.opts.QueueMaxWait > 0 {
		for _, e := range s.queue.EvictWaitingSince(now.Add(-s.opts.QueueMaxWait)) {
			if _, changed, err := s.finish(ctx, e.CallID, calls.StatusMissed, "queue_timeout"); err == nil && changed {
				rep.MissedCalls++
			}
		}
	}

	if s.opts.CallRetention > 0 {
		rep.PurgedCalls = s.purgeCalls(now.Add(-s.opts.CallRetention))
	}

	if rep != (ReapReport{}) {
		s.log.Info("reaper pass", "failed_handshakes", rep.FailedHandshakes, "missed_calls", rep.MissedCalls,
			"purged_connections", rep.PurgedConns, "purged_calls", rep.PurgedCalls)
	}
	return rep
}

// purgeCalls drops finished calls that ended before cutoff.
func (s *Service) purgeCalls(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.calls {
		rec.mu.Lock()
		stale := rec.call.Status.Terminal() && rec.call.EndedAt != nil && rec.call.EndedAt.Before(cutoff)
		rec.mu.Unlock()
		if stale {
			delete(s.calls, id)
			n++
		}
	}
	return n
}

// RunReaper calls ReapStale every interval until ctx is cancelled.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ReapStale(ctx)
		}
	}
}
