package signaling

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Response statuses returned to the transport layer.
const (
	StatusOfferReceived     = "offer_received"
	StatusAnswerReceived    = "answer_received"
	StatusCandidateReceived = "candidate_received"
	StatusCandidateIgnored  = "candidate_ignored"
	StatusStateUpdated      = "state_updated"
)

// Response acknowledges a signaling operation.
type Response struct {
	CallID       string             `json:"callId"`
	ConnectionID string             `json:"connectionId,omitempty"`
	ICEServers   []webrtc.ICEServer `json:"iceServers,omitempty"`
	Status       string             `json:"status"`
	State        State              `json:"connectionState,omitempty"`

	// Created is set when this call created the connection.
	Created bool `json:"-"`
}

// Engine validates and applies offer/answer/ICE transitions against a Registry.
// It performs no I/O; every operation is a short critical section on one call's record.
type Engine struct {
	registry   *Registry
	iceServers []webrtc.ICEServer
	log        *slog.Logger

	clock func() time.Time
	newID func() string
}

func NewEngine(registry *Registry, iceServers []webrtc.ICEServer, log *slog.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry:   registry,
		iceServers: slices.Clone(iceServers),
		log:        log,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.clock = now
	return e
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

func respond(c Connection, status string) Response {
	return Response{
		CallID:       c.CallID,
		ConnectionID: c.PeerConnectionID,
		ICEServers:   c.ICEServers,
		Status:       status,
		State:        c.State,
	}
}

// HandleOffer creates the call's connection if needed, records the offer as the remote
// description and moves the connection to connecting. A re-offer on a connected call
// (renegotiation) keeps it connected.
func (e *Engine) HandleOffer(callID, sdp string) (Response, error) {
	now := e.now()
	rec, created := e.registry.getOrCreate(callID, func() Connection {
		return Connection{
			CallID:           callID,
			PeerConnectionID: e.newID(),
			ICEServers:       slices.Clone(e.iceServers),
			ICECandidates:    []string{},
			State:            StateNew,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()

	c := &rec.conn
	switch c.State {
	case StateNew:
		c.State = StateConnecting
	case StateConnecting, StateConnected:
	default:
		return Response{}, fmt.Errorf("%w: offer on %s connection", ErrInvalidState, c.State)
	}
	c.RemoteSDP = sdp
	c.UpdatedAt = now

	resp := respond(c.clone(), StatusOfferReceived)
	resp.Created = created
	e.log.Debug("offer applied", "call_id", callID, "connection_id", c.PeerConnectionID, "state", c.State, "created", created)
	return resp, nil
}

// HandleAnswer records the answer as the local description and moves connecting to connected.
// It fails with ErrConnectionNotFound when no offer has opened a connection for the call.
func (e *Engine) HandleAnswer(callID, sdp string) (Response, error) {
	now := e.now()
	c, err := e.registry.Update(callID, func(c *Connection) error {
		switch c.State {
		case StateConnecting:
			c.State = StateConnected
		case StateConnected:
		default:
			return fmt.Errorf("%w: answer on %s connection", ErrInvalidState, c.State)
		}
		c.LocalSDP = sdp
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	e.log.Debug("answer applied", "call_id", callID, "connection_id", c.PeerConnectionID)
	return respond(c, StatusAnswerReceived), nil
}

// HandleICECandidate appends a candidate regardless of connection state. Candidates can race
// ahead of the offer, so an unknown call id is logged and ignored.
func (e *Engine) HandleICECandidate(callID, candidate string) Response {
	now := e.now()
	c, err := e.registry.Update(callID, func(c *Connection) error {
		if candidate != "" {
			c.ICECandidates = append(c.ICECandidates, candidate)
			c.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		e.log.Info("ice candidate for unknown connection ignored", "call_id", callID)
		return Response{CallID: callID, Status: StatusCandidateIgnored}
	}
	return respond(c, StatusCandidateReceived)
}

// MarkState applies a transport-reported transition (disconnected, failed) after validating
// it against the lifecycle graph.
func (e *Engine) MarkState(callID string, to State) (Response, error) {
	now := e.now()
	c, err := e.registry.Update(callID, func(c *Connection) error {
		if c.State == to {
			return nil
		}
		if !canTransition(c.State, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.State, to)
		}
		c.State = to
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return respond(c, StatusStateUpdated), nil
}

// Close moves the connection to closed. It is idempotent; closed reports whether this
// call performed the transition.
func (e *Engine) Close(callID string) (c Connection, closed bool) {
	now := e.now()
	c, err := e.registry.Update(callID, func(c *Connection) error {
		if c.State == StateClosed {
			return nil
		}
		c.State = StateClosed
		c.UpdatedAt = now
		closed = true
		return nil
	})
	if err != nil {
		return Connection{}, false
	}
	if closed {
		e.log.Debug("connection closed", "call_id", callID, "connection_id", c.PeerConnectionID)
	}
	return c, closed
}

// Connection returns a snapshot of the call's connection.
func (e *Engine) Connection(callID string) (Connection, bool) {
	return e.registry.Get(callID)
}

// Stalled returns connections still connecting whose last update is before cutoff.
func (e *Engine) Stalled(cutoff time.Time) []Connection {
	var out []Connection
	for _, c := range e.registry.Active() {
		if c.State == StateConnecting && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Purge forgets closed connections last touched before cutoff.
func (e *Engine) Purge(cutoff time.Time) int {
	return e.registry.Purge(cutoff)
}
