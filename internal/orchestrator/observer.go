package orchestrator

import (
	"context"
	"encoding/json"

	"contact-center/internal/calls"
	"contact-center/internal/events"
	"contact-center/internal/relay"
)

var _ relay.SignalHandler = (*Service)(nil)

// PeerJoined emits participant_joined for a relay peer.
func (s *Service) PeerJoined(callID, peerID string, peers int) {
	rec, ok := s.get(callID)
	if !ok {
		return
	}
	c := s.snapshot(rec)
	s.events.Emit(context.Background(), c.TenantID, c.ID, events.ParticipantJoined, map[string]any{
		"peer_id":      peerID,
		"participants": peers,
	})
}

// PeerLeft emits participant_left. When the last peer of a connected call leaves, the call
// ends and its connection closes.
func (s *Service) PeerLeft(callID, peerID string, remaining int) {
	rec, ok := s.get(callID)
	if !ok {
		return
	}
	ctx := context.Background()
	c := s.snapshot(rec)
	s.events.Emit(ctx, c.TenantID, c.ID, events.ParticipantLeft, map[string]any{
		"peer_id":      peerID,
		"participants": remaining,
	})
	if remaining == 0 && c.Status == calls.StatusConnected {
		if _, _, err := s.finish(ctx, callID, calls.StatusEnded, "participants_left"); err != nil {
			s.log.Warn("end call after relay teardown failed", "call_id", callID, "err", err)
		}
	}
}

// RelaySignal applies an offer, answer or ICE frame received from a relay peer, so calls
// negotiated over the socket reach the same connection state as the HTTP surface.
func (s *Service) RelaySignal(ctx context.Context, callID, peerID string, msg relay.SignalMessage) error {
	_, err := s.HandleSignal(ctx, Signal{
		CallID:    callID,
		Type:      msg.Type,
		SDP:       msg.SDP,
		Candidate: candidateString(msg.Candidate),
		Timestamp: s.now(),
	})
	return err
}

// candidateString accepts a JSON string or an RTCIceCandidateInit object, kept as JSON.
func candidateString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}
