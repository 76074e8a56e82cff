package relay

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig tunes the WebSocket transport. Zero values take defaults.
type WSConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64

	// CheckOrigin is passed to the upgrader; nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func (c WSConfig) withDefaults() WSConfig {
	out := c
	if out.WriteWait <= 0 {
		out.WriteWait = 10 * time.Second
	}
	if out.PongWait <= 0 {
		out.PongWait = 60 * time.Second
	}
	if out.PingPeriod <= 0 || out.PingPeriod >= out.PongWait {
		out.PingPeriod = out.PongWait * 9 / 10
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = 64 << 10
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return out
}

// AllowOrigins returns a CheckOrigin accepting requests without an Origin header and
// those whose Origin host matches one of origins (scheme and host, e.g.
// "https://agents.example.com"). An empty list accepts everything.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := map[string]struct{}{}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Server upgrades HTTP requests and pumps peers of a Hub.
type Server struct {
	hub      *Hub
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg WSConfig) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// ServeWS upgrades the request and joins the peer to the call's room. It returns when the
// peer disconnects. Authorization is the caller's job.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, callID, peerID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.hub.log.Info("relay upgrade failed", "call_id", callID, "err", err)
		return
	}

	p, err := s.hub.Join(callID, peerID)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(s.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	go s.writePump(conn, p)
	s.readPump(conn, p)
}

// readPump dispatches inbound frames until the connection fails or the peer is dropped.
func (s *Server) readPump(conn *websocket.Conn, p *Peer) {
	defer func() {
		s.hub.leave(p.CallID, p.ID, p)
		_ = conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Info("relay read failed", "call_id", p.CallID, "peer_id", p.ID, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.hub.Dispatch(p, raw)
	}
}

// writePump is the only writer on conn. It drains the peer's channel and keeps the
// connection alive with pings.
func (s *Server) writePump(conn *websocket.Conn, p *Peer) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-p.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.log.Info("relay write failed", "call_id", p.CallID, "peer_id", p.ID, "err", err)
				s.hub.leave(p.CallID, p.ID, p)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.hub.leave(p.CallID, p.ID, p)
				return
			}
		case <-p.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}
