package httpapi

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contact-center/internal/auth"
	"contact-center/internal/events"
	"contact-center/internal/orchestrator"
	"contact-center/internal/queue"
	"contact-center/internal/rbac"
	"contact-center/internal/relay"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/signaling"
	"contact-center/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

type apiFixture struct {
	router *gin.Engine
	svc    *orchestrator.Service
	hub    *relay.Hub
	events *events.MemoryRepo
	dir    *routing.MemoryDirectory
}

// fakeAuth trusts X-Test-* headers so tests can pick any identity.
func fakeAuth(c *gin.Context) {
	user := c.GetHeader("X-Test-User")
	if user == "" {
		user = "u-1"
	}
	id := auth.Identity{
		UserID:   user,
		TenantID: c.GetHeader("X-Test-Tenant"),
		AgentID:  c.GetHeader("X-Test-Agent"),
		Role:     c.GetHeader("X-Test-Role"),
	}
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
	c.Next()
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{events: events.NewMemoryRepo(), dir: routing.NewMemoryDirectory()}
	q := queue.NewManager()
	rec := store.NewMemoryRecorder()
	f.svc = orchestrator.NewService(orchestrator.Deps{
		Recorder: rec,
		Events:   events.NewService(f.events, nil),
		Queue:    q,
		Engine:   signaling.NewEngine(signaling.NewRegistry(), []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}, nil),
		Matcher:  routing.NewMatcher(f.dir, q, nil),
		Limiter:  store.NewMemoryLimiter(10),
	}, orchestrator.Options{})

	f.hub = relay.NewHub(relay.DefaultSendBuffer, nil).WithObserver(f.svc).WithSignals(f.svc)
	f.router = gin.New()
	Handlers{
		Calls:   f.svc,
		Relay:   relay.NewServer(f.hub, relay.WSConfig{}),
		Reports: reporting.NewService(rec),
	}.Register(f.router, fakeAuth)
	return f
}

type reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (f *apiFixture) do(t *testing.T, method, path, tenant, role string, body any) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Tenant", tenant)
	req.Header.Set("X-Test-Role", role)
	req.Header.Set("X-Test-Agent", "a-1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var r reply
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w.Code, r
}

func (f *apiFixture) createCall(t *testing.T, tenant string, body map[string]any) string {
	t.Helper()
	code, r := f.do(t, http.MethodPost, "/calls", tenant, rbac.RoleAgent, body)
	if code != http.StatusCreated || !r.Success {
		t.Fatalf("create: %d %+v", code, r)
	}
	var c struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(r.Data, &c)
	return c.ID
}

func TestCreateAndGetCall(t *testing.T) {
	f := newAPI(t)
	id := f.createCall(t, "t1", map[string]any{
		"direction":      "inbound",
		"customer_email": "vip@example.com",
		"tags":           []string{"urgent"},
	})

	code, r := f.do(t, http.MethodGet, "/calls/"+id, "t1", rbac.RoleAgent, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", code, r)
	}
	var c map[string]any
	_ = json.Unmarshal(r.Data, &c)
	if c["status"] != "ringing" || c["tenant_id"] != "t1" {
		t.Fatalf("unexpected call %v", c)
	}

	code, r = f.do(t, http.MethodGet, "/queues/stats", "t1", rbac.RoleAgent, nil)
	var stats queue.Stats
	_ = json.Unmarshal(r.Data, &stats)
	if code != http.StatusOK || stats.Count != 1 || stats.HighPriorityCount != 1 {
		t.Fatalf("unexpected stats %d %+v", code, stats)
	}
}

func TestCreateCall_Validation(t *testing.T) {
	f := newAPI(t)
	code, r := f.do(t, http.MethodPost, "/calls", "t1", rbac.RoleAgent, map[string]any{"direction": "sideways"})
	if code != http.StatusBadRequest || r.Success || r.Error == "" {
		t.Fatalf("expected 400 envelope, got %d %+v", code, r)
	}
	code, _ = f.do(t, http.MethodPost, "/calls", "t1", rbac.RoleAgent, map[string]any{"metadata": []int{1}})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-object metadata, got %d", code)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newAPI(t)
	id := f.createCall(t, "t1", map[string]any{})

	if code, _ := f.do(t, http.MethodGet, "/calls/"+id, "t2", rbac.RoleTenantAdmin, nil); code != http.StatusNotFound {
		t.Fatalf("other tenant must see 404, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/calls/"+id+"/end", "t2", rbac.RoleTenantAdmin, nil); code != http.StatusNotFound {
		t.Fatalf("other tenant must not end the call, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/calls/"+id, "t2", rbac.RoleSuperAdmin, nil); code != http.StatusOK {
		t.Fatalf("super_admin crosses tenants, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/calls/"+id, "", rbac.RoleAgent, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing tenant must be 401, got %d", code)
	}
}

func TestSignalingFlow(t *testing.T) {
	f := newAPI(t)
	id := f.createCall(t, "t1", map[string]any{})

	code, r := f.do(t, http.MethodPost, "/webrtc/answer", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "signalType": "answer", "data": map[string]string{"sdp": "Y"},
	})
	if code != http.StatusNotFound {
		t.Fatalf("answer before offer must be 404, got %d %+v", code, r)
	}

	code, r = f.do(t, http.MethodPost, "/webrtc/offer", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "signalType": "offer", "data": map[string]string{"sdp": "X"}, "timestamp": time.Now().UnixMilli(),
	})
	var resp map[string]any
	_ = json.Unmarshal(r.Data, &resp)
	if code != http.StatusOK || resp["status"] != signaling.StatusOfferReceived || resp["connectionState"] != "connecting" {
		t.Fatalf("unexpected offer response %d %v", code, resp)
	}
	if servers, _ := resp["iceServers"].([]any); len(servers) != 1 {
		t.Fatalf("expected iceServers in response, got %v", resp)
	}

	code, r = f.do(t, http.MethodPost, "/webrtc/ice-candidate", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "signalType": "ice-candidate", "data": map[string]string{"candidate": "candidate:1 1 UDP 1 10.0.0.1 5000 typ host"},
	})
	if code != http.StatusOK {
		t.Fatalf("expected ice 200, got %d %+v", code, r)
	}

	code, r = f.do(t, http.MethodPost, "/webrtc/answer", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "signalType": "answer", "data": map[string]string{"sdp": "Y"},
	})
	_ = json.Unmarshal(r.Data, &resp)
	if code != http.StatusOK || resp["connectionState"] != "connected" {
		t.Fatalf("unexpected answer response %d %v", code, resp)
	}

	code, r = f.do(t, http.MethodGet, "/calls/"+id, "t1", rbac.RoleAgent, nil)
	var c map[string]any
	_ = json.Unmarshal(r.Data, &c)
	if c["status"] != "connected" || c["answered_at"] == nil {
		t.Fatalf("call should be connected, got %v", c)
	}

	if !strings.Contains(strings.Join(typeNames(f.events.Types(id)), ","), "call_answered") {
		t.Fatalf("expected call_answered event, got %v", f.events.Types(id))
	}
}

func typeNames(ts []events.Type) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, string(t))
	}
	return out
}

func TestSignaling_Errors(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(t, http.MethodPost, "/webrtc/offer", "t1", rbac.RoleAgent, map[string]any{
		"callId": "nope", "data": map[string]string{"sdp": "X"},
	})
	if code != http.StatusNotFound {
		t.Fatalf("offer for unknown call must be 404, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/webrtc/ice-candidate", "t1", rbac.RoleAgent, map[string]any{
		"callId": "nope", "data": map[string]string{"candidate": "c"},
	})
	if code != http.StatusOK {
		t.Fatalf("ice for unknown call is accepted, got %d", code)
	}

	id := f.createCall(t, "t1", map[string]any{})
	code, _ = f.do(t, http.MethodPost, "/webrtc/offer", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "signalType": "answer", "data": map[string]string{"sdp": "X"},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("mismatched signalType must be 400, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/webrtc/offer", "t1", rbac.RoleAgent, map[string]any{"callId": id})
	if code != http.StatusBadRequest {
		t.Fatalf("missing sdp must be 400, got %d", code)
	}

	if code, _ := f.do(t, http.MethodPost, "/calls/"+id+"/end", "t1", rbac.RoleAgent, map[string]any{"reason": "done"}); code != http.StatusOK {
		t.Fatalf("end: %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/webrtc/offer", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "data": map[string]string{"sdp": "X"},
	})
	if code != http.StatusConflict {
		t.Fatalf("offer on ended call must be 409, got %d", code)
	}
}

func TestRouteAndNextCall(t *testing.T) {
	f := newAPI(t)
	f.dir.Put(routing.Agent{ID: "a-1", TenantID: "t1", Status: routing.AgentOnline, Active: true, MaxConcurrentCalls: 3})

	first := f.createCall(t, "t1", map[string]any{})
	second := f.createCall(t, "t1", map[string]any{"tags": []string{"escalation"}})

	if code, _ := f.do(t, http.MethodPost, "/calls/"+first+"/route", "t1", rbac.RoleAgent, nil); code != http.StatusForbidden {
		t.Fatalf("agents may not route, got %d", code)
	}
	code, r := f.do(t, http.MethodPost, "/calls/"+first+"/route", "t1", rbac.RoleSupervisor, nil)
	var c map[string]any
	_ = json.Unmarshal(r.Data, &c)
	if code != http.StatusOK || c["agent_id"] != "a-1" {
		t.Fatalf("expected routed to a-1, got %d %v", code, c)
	}

	code, r = f.do(t, http.MethodPost, "/agents/next-call", "t1", rbac.RoleAgent, nil)
	_ = json.Unmarshal(r.Data, &c)
	if code != http.StatusOK || c["id"] != second {
		t.Fatalf("expected next call %s, got %d %v", second, code, c)
	}

	code, r = f.do(t, http.MethodPost, "/agents/next-call", "t1", rbac.RoleAgent, nil)
	if code != http.StatusOK || r.Message == "" {
		t.Fatalf("expected empty queue message, got %d %+v", code, r)
	}

	code, _ = f.do(t, http.MethodPost, "/agents/next-call", "t1", rbac.RoleTenantAdmin, map[string]string{"agent_id": "ghost"})
	if code != http.StatusNotFound {
		t.Fatalf("unknown agent must be 404, got %d", code)
	}
}

func TestEscalateCall(t *testing.T) {
	f := newAPI(t)
	id := f.createCall(t, "t1", map[string]any{})

	code, r := f.do(t, http.MethodPost, "/calls/"+id+"/escalate", "t1", rbac.RoleAgent, map[string]string{"reason": "angry customer"})
	var c map[string]any
	_ = json.Unmarshal(r.Data, &c)
	tags, _ := c["tags"].([]any)
	if code != http.StatusOK || len(tags) != 1 || tags[0] != "escalation" {
		t.Fatalf("expected escalated call, got %d %v", code, c)
	}
	code, r = f.do(t, http.MethodGet, "/queues/stats", "t1", rbac.RoleAgent, nil)
	var stats queue.Stats
	_ = json.Unmarshal(r.Data, &stats)
	if code != http.StatusOK || stats.HighPriorityCount != 1 {
		t.Fatalf("escalated call must count as high priority, got %+v", stats)
	}

	if code, _ := f.do(t, http.MethodPost, "/calls/"+id+"/escalate", "t2", rbac.RoleAgent, nil); code != http.StatusNotFound {
		t.Fatalf("other tenant must see 404, got %d", code)
	}
	f.do(t, http.MethodPost, "/calls/"+id+"/end", "t1", rbac.RoleAgent, nil)
	if code, _ := f.do(t, http.MethodPost, "/calls/"+id+"/escalate", "t1", rbac.RoleAgent, nil); code != http.StatusConflict {
		t.Fatalf("ended call must be 409, got %d", code)
	}
}

func TestReports(t *testing.T) {
	f := newAPI(t)
	f.createCall(t, "t1", map[string]any{"tags": []string{"vip"}})
	f.createCall(t, "t1", map[string]any{})
	f.createCall(t, "t2", map[string]any{})

	if code, _ := f.do(t, http.MethodGet, "/reports/calls", "t1", rbac.RoleAgent, nil); code != http.StatusForbidden {
		t.Fatalf("agents may not read reports, got %d", code)
	}

	code, r := f.do(t, http.MethodGet, "/reports/calls", "t1", rbac.RoleSupervisor, nil)
	var sum reporting.CallsSummary
	_ = json.Unmarshal(r.Data, &sum)
	if code != http.StatusOK || sum.TotalCalls != 2 || sum.RingingCalls != 2 {
		t.Fatalf("unexpected summary %d %+v", code, sum)
	}

	code, r = f.do(t, http.MethodGet, "/reports/calls?tag=vip", "t1", rbac.RoleSupervisor, nil)
	_ = json.Unmarshal(r.Data, &sum)
	if code != http.StatusOK || sum.TotalCalls != 1 {
		t.Fatalf("unexpected tag summary %d %+v", code, sum)
	}

	if code, _ := f.do(t, http.MethodGet, "/reports/calls?from=yesterday", "t1", rbac.RoleSupervisor, nil); code != http.StatusBadRequest {
		t.Fatalf("bad from must be 400, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/reports/agents?from=2030-01-02T00:00:00Z&to=2030-01-01T00:00:00Z", "t1", rbac.RoleTenantAdmin, nil); code != http.StatusBadRequest {
		t.Fatalf("inverted range must be 400, got %d", code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Handlers{Ready: func(ctx context.Context) error { return errors.New("db down") }}.Register(r, fakeAuth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return m
}

func TestServeWS_RelaysBetweenPeers(t *testing.T) {
	f := newAPI(t)
	id := f.createCall(t, "t1", map[string]any{})

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + id

	dial := func(user, peer string) *websocket.Conn {
		h := http.Header{}
		h.Set("X-Test-Tenant", "t1")
		h.Set("X-Test-Role", rbac.RoleAgent)
		h.Set("X-Test-User", user)
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?peer_id="+peer, h)
		if err != nil {
			t.Fatalf("dial %s: %v (resp=%v)", peer, err, resp)
		}
		if ack := readFrame(t, conn); ack["type"] != "connected" || ack["session_id"] != user+":"+peer {
			t.Fatalf("expected ack for %s:%s, got %v", user, peer, ack)
		}
		return conn
	}

	a := dial("u-1", "pa")
	defer a.Close()
	b := dial("u-2", "pb")
	defer b.Close()

	// Socket offer and answer drive the call's connection, then reach the other peer.
	if err := a.WriteJSON(map[string]any{"type": "offer", "sdp": "X"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(t, b); got["type"] != "offer" || got["sdp"] != "X" {
		t.Fatalf("expected relayed offer, got %v", got)
	}
	if err := b.WriteJSON(map[string]any{"type": "answer", "sdp": "Y"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(t, a); got["type"] != "answer" || got["sdp"] != "Y" {
		t.Fatalf("expected relayed answer, got %v", got)
	}
	code, r := f.do(t, http.MethodGet, "/calls/"+id, "t1", rbac.RoleAgent, nil)
	var c map[string]any
	_ = json.Unmarshal(r.Data, &c)
	if code != http.StatusOK || c["status"] != "connected" {
		t.Fatalf("socket negotiation must connect the call, got %d %v", code, c)
	}

	// A frame the engine rejects goes back to its sender only.
	if err := a.WriteJSON(map[string]any{"type": "offer"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(t, a); got["type"] != "error" {
		t.Fatalf("expected error for offer without sdp, got %v", got)
	}

	// HTTP signals reach every peer in the room.
	code, _ = f.do(t, http.MethodPost, "/webrtc/ice-candidate", "t1", rbac.RoleAgent, map[string]any{
		"callId": id, "data": map[string]string{"candidate": "candidate:1 1 UDP 1 10.0.0.1 5000 typ host"},
	})
	if code != http.StatusOK {
		t.Fatalf("expected ice 200, got %d", code)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		got := readFrame(t, conn)
		if got["type"] != "ice-candidate" || got["candidate"] != "candidate:1 1 UDP 1 10.0.0.1 5000 typ host" || got["from"] != "u-1" {
			t.Fatalf("expected relayed HTTP candidate, got %v", got)
		}
	}

	// Reusing another user's peer_id opens a separate session.
	intruder := dial("u-3", "pa")
	defer intruder.Close()
	if peers := f.hub.Peers(id); len(peers) != 3 {
		t.Fatalf("expected 3 sessions, got %v", peers)
	}
	if err := a.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := readFrame(t, a); got["type"] != "pong" {
		t.Fatalf("original session must stay connected, got %v", got)
	}

	h := http.Header{}
	h.Set("X-Test-Tenant", "t2")
	h.Set("X-Test-Role", rbac.RoleAgent)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other tenant must not join, err=%v resp=%v", err, resp)
	}
}

func TestRelayPeerID(t *testing.T) {
	cases := []struct{ user, requested, want string }{
		{"u-1", "", "u-1"},
		{"u-1", "tab-2", "u-1:tab-2"},
		{"", "u-1:tab-2", ""},
	}
	for _, c := range cases {
		if got := relayPeerID(c.user, c.requested); got != c.want {
			t.Fatalf("relayPeerID(%q, %q) = %q, want %q", c.user, c.requested, got, c.want)
		}
	}
}
