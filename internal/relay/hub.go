package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message types carried on the relay channel.
const (
	TypeConnected    = "connected"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

const DefaultSendBuffer = 64

var ErrInvalidRoom = errors.New("relay: call_id required")

// Observer is notified of membership changes. Calls happen outside hub locks.
type Observer interface {
	PeerJoined(callID, peerID string, peers int)
	PeerLeft(callID, peerID string, remaining int)
}

// SignalHandler applies offer, answer and ice-candidate frames before they are forwarded.
// A non-nil error is reported to the sender and the frame is dropped.
type SignalHandler interface {
	RelaySignal(ctx context.Context, callID, peerID string, msg SignalMessage) error
}

// SignalMessage is the frame shape for offer, answer and ice-candidate. Candidate holds
// either a candidate string or the browser's RTCIceCandidateInit object.
type SignalMessage struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_id,omitempty"`
	From      string          `json:"from,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Peer is one subscriber of a call's room. Outbound messages are queued on a buffered
// channel drained by the transport; Done is closed once the peer leaves the room.
type Peer struct {
	ID     string
	CallID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *Peer) Send() <-chan []byte { return p.send }

func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) close() { p.closeOnce.Do(func() { close(p.done) }) }

// enqueue never blocks. It fails when the peer is gone or its buffer is full.
func (p *Peer) enqueue(msg []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// Hub is the room registry: call id -> peers.
//
// Concurrency:
// - the hub lock guards the room map only;
// - each room has its own mutex held only while membership changes or is snapshotted;
// - fan-out writes to per-peer channels after the room lock is released.
//
// An emptied room is removed and marked dead; a join racing with the removal retries
// against a fresh room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room

	sendBuffer int
	observer   Observer
	signals    SignalHandler
	log        *slog.Logger

	clock func() time.Time
	newID func() string
}

type room struct {
	mu    sync.Mutex
	peers map[string]*Peer
	dead  bool
}

func NewHub(sendBuffer int, log *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:      map[string]*room{},
		sendBuffer: sendBuffer,
		log:        log,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// WithObserver registers the membership observer. It must be called before serving peers.
func (h *Hub) WithObserver(o Observer) *Hub {
	h.observer = o
	return h
}

// WithSignals registers the handler that applies signaling frames. It must be called
// before serving peers.
func (h *Hub) WithSignals(sh SignalHandler) *Hub {
	h.signals = sh
	return h
}

// WithClock overrides the time source. Intended for tests.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.clock = now
	return h
}

func (h *Hub) room(callID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[callID]
	if r == nil {
		r = &room{peers: map[string]*Peer{}}
		h.rooms[callID] = r
	}
	return r
}

// Join subscribes a peer to the call's room. An empty peerID is replaced by a generated
// session id. The connected acknowledgement is the first message on the peer's channel.
// Joining with an id already present replaces the previous peer.
func (h *Hub) Join(callID, peerID string) (*Peer, error) {
	if callID == "" {
		return nil, ErrInvalidRoom
	}
	if peerID == "" {
		peerID = h.newID()
	}

	p := &Peer{
		ID:     peerID,
		CallID: callID,
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
	}
	p.enqueue(mustJSON(map[string]any{
		"type":       TypeConnected,
		"session_id": peerID,
		"call_id":    callID,
	}))

	var replaced *Peer
	var count int
	for {
		r := h.room(callID)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		replaced = r.peers[peerID]
		r.peers[peerID] = p
		count = len(r.peers)
		r.mu.Unlock()
		break
	}

	if replaced != nil {
		replaced.close()
		h.log.Info("relay peer replaced", "call_id", callID, "peer_id", peerID)
	} else if h.observer != nil {
		h.observer.PeerJoined(callID, peerID, count)
	}
	h.log.Debug("relay peer joined", "call_id", callID, "peer_id", peerID, "peers", count)
	return p, nil
}

// Leave removes the peer from its room. It is idempotent.
func (h *Hub) Leave(callID, peerID string) {
	h.leave(callID, peerID, nil)
}

// leave removes peerID, or only the given peer instance when p is set, so a stale
// transport cannot evict the peer that replaced it.
func (h *Hub) leave(callID, peerID string, p *Peer) {
	h.mu.Lock()
	r := h.rooms[callID]
	if r == nil {
		h.mu.Unlock()
		return
	}
	r.mu.Lock()
	cur, ok := r.peers[peerID]
	if !ok || (p != nil && cur != p) {
		r.mu.Unlock()
		h.mu.Unlock()
		return
	}
	delete(r.peers, peerID)
	remaining := len(r.peers)
	if remaining == 0 {
		r.dead = true
		delete(h.rooms, callID)
	}
	r.mu.Unlock()
	h.mu.Unlock()

	cur.close()
	h.log.Debug("relay peer left", "call_id", callID, "peer_id", peerID, "remaining", remaining)
	if h.observer != nil {
		h.observer.PeerLeft(callID, peerID, remaining)
	}
}

// Peers returns the ids currently in the call's room.
func (h *Hub) Peers(callID string) []string {
	h.mu.Lock()
	r := h.rooms[callID]
	h.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

func (h *Hub) snapshot(callID string) []*Peer {
	h.mu.Lock()
	r := h.rooms[callID]
	h.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast delivers msg to every peer in the room except fromPeerID and returns how many
// peers accepted it. A peer whose buffer is full is dropped from the room.
func (h *Hub) Broadcast(callID, fromPeerID string, msg []byte) int {
	delivered := 0
	for _, p := range h.snapshot(callID) {
		if p.ID == fromPeerID {
			continue
		}
		if p.enqueue(msg) {
			delivered++
			continue
		}
		h.log.Warn("relay peer dropped", "call_id", callID, "peer_id", p.ID, "reason", "send buffer full")
		h.leave(callID, p.ID, p)
	}
	return delivered
}

// Dispatch handles one inbound message from p by its type discriminator.
func (h *Hub) Dispatch(p *Peer, raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reply(p, errorMessage("Invalid message format"))
		return
	}

	switch env.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if h.signals != nil {
			var msg SignalMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				h.reply(p, errorMessage("Invalid message format"))
				return
			}
			if err := h.signals.RelaySignal(context.Background(), p.CallID, p.ID, msg); err != nil {
				h.log.Info("relay signal rejected", "call_id", p.CallID, "peer_id", p.ID, "type", env.Type, "err", err)
				h.reply(p, errorMessage(err.Error()))
				return
			}
		}
		n := h.Broadcast(p.CallID, p.ID, raw)
		h.log.Debug("relay forwarded", "call_id", p.CallID, "peer_id", p.ID, "type", env.Type, "delivered", n)
	case TypePing:
		h.reply(p, mustJSON(map[string]any{"type": TypePong, "timestamp": h.clock().UTC().Unix()}))
	case TypePong:
		// keepalive reply; nothing to do
	default:
		h.reply(p, errorMessage("Unknown message type"))
	}
}

func (h *Hub) reply(p *Peer, msg []byte) {
	if !p.enqueue(msg) {
		h.log.Warn("relay reply dropped", "call_id", p.CallID, "peer_id", p.ID)
		h.leave(p.CallID, p.ID, p)
	}
}

func errorMessage(msg string) []byte {
	return mustJSON(map[string]any{"type": TypeError, "message": msg})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
