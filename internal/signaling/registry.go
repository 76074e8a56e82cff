package signaling

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the lifecycle of one call's peer connection.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

var (
	ErrConnectionNotFound = errors.New("signaling: connection not found")
	ErrInvalidState       = errors.New("signaling: invalid state transition")
)

// transitions lists the states reachable from each state. Closed is terminal.
var transitions = map[State][]State{
	StateNew:          {StateConnecting, StateFailed, StateClosed},
	StateConnecting:   {StateConnected, StateFailed, StateClosed},
	StateConnected:    {StateDisconnected, StateFailed, StateClosed},
	StateDisconnected: {StateFailed, StateClosed},
	StateFailed:       {StateClosed},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Connection is the signaling record for a call. At most one exists per call id.
type Connection struct {
	CallID           string             `json:"callId"`
	PeerConnectionID string             `json:"peerConnectionId"`
	ICEServers       []webrtc.ICEServer `json:"iceServers"`
	LocalSDP         string             `json:"localSdp,omitempty"`
	RemoteSDP        string             `json:"remoteSdp,omitempty"`
	ICECandidates    []string           `json:"iceCandidates"`
	State            State              `json:"state"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func (c Connection) clone() Connection {
	c.ICEServers = slices.Clone(c.ICEServers)
	c.ICECandidates = slices.Clone(c.ICECandidates)
	return c
}

// Registry tracks one Connection per call.
//
// The map lock guards membership only. Each record carries its own mutex, so updates to one
// call's connection serialize while different calls proceed independently.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	mu   sync.Mutex
	conn Connection
}

func NewRegistry() *Registry {
	return &Registry{records: map[string]*record{}}
}

// getOrCreate returns the record for callID, building it with init when absent.
func (r *Registry) getOrCreate(callID string, init func() Connection) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[callID]; ok {
		return rec, false
	}
	rec := &record{conn: init()}
	r.records[callID] = rec
	return rec, true
}

func (r *Registry) get(callID string) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	return rec, ok
}

// Update runs fn with exclusive access to the call's connection.
func (r *Registry) Update(callID string, fn func(c *Connection) error) (Connection, error) {
	rec, ok := r.get(callID)
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := fn(&rec.conn); err != nil {
		return rec.conn.clone(), err
	}
	return rec.conn.clone(), nil
}

// Get returns a snapshot of the call's connection.
func (r *Registry) Get(callID string) (Connection, bool) {
	rec, ok := r.get(callID)
	if !ok {
		return Connection{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.conn.clone(), true
}

// Active returns snapshots of every connection that is not closed.
func (r *Registry) Active() []Connection {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]Connection, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.conn.State != StateClosed {
			out = append(out, rec.conn.clone())
		}
		rec.mu.Unlock()
	}
	return out
}

// Purge drops closed records last updated before cutoff and returns how many were removed.
func (r *Registry) Purge(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.records {
		rec.mu.Lock()
		stale := rec.conn.State == StateClosed && rec.conn.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()
		if stale {
			delete(r.records, id)
			n++
		}
	}
	return n
}
