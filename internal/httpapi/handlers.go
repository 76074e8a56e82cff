package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"contact-center/internal/auth"
	"contact-center/internal/calls"
	"contact-center/internal/orchestrator"
	"contact-center/internal/rbac"
	"contact-center/internal/relay"
	"contact-center/internal/reporting"
	"contact-center/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, check tenant access, call the orchestrator, return JSON.
type Handlers struct {
	Calls   *orchestrator.Service
	Relay   *relay.Server
	Reports *reporting.Service

	// Ready reports backend readiness (database, redis). Nil means always ready.
	Ready func(ctx context.Context) error
}

func callerIdentity(c *gin.Context) (auth.Identity, bool) {
	ctx := c.Request.Context()
	tid, err := auth.TenantID(ctx)
	if err != nil {
		fail(c, http.StatusUnauthorized, "tenant_id required")
		return auth.Identity{}, false
	}
	uid, _ := auth.UserID(ctx)
	aid, _ := auth.AgentID(ctx)
	role, _ := auth.Role(ctx)
	return auth.Identity{UserID: uid, TenantID: tid, AgentID: aid, Role: role}, true
}

// loadCall fetches a call and enforces tenant isolation. Calls of other tenants are
// reported as missing.
func (h Handlers) loadCall(c *gin.Context, id auth.Identity, callID string) (calls.Call, bool) {
	call, err := h.Calls.GetCall(c.Request.Context(), callID)
	if err != nil {
		failErr(c, err)
		return calls.Call{}, false
	}
	if !rbac.CanAccessTenant(id.Role, id.TenantID, call.TenantID) {
		failErr(c, orchestrator.ErrCallNotFound)
		return calls.Call{}, false
	}
	return call, true
}

// --- Calls ---

type createCallRequest struct {
	// TenantID is honoured for super_admin only; everyone else creates in their own tenant.
	TenantID      string          `json:"tenant_id"`
	Direction     string          `json:"direction"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	Tags          []string        `json:"tags"`
	Metadata      json.RawMessage `json:"metadata"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	tenantID := id.TenantID
	if rbac.IsSuperAdmin(id.Role) && strings.TrimSpace(req.TenantID) != "" {
		tenantID = req.TenantID
	}
	dir := calls.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
	if dir == "" {
		dir = calls.DirectionInbound
	}

	call, err := h.Calls.CreateCall(c.Request.Context(), orchestrator.CreateRequest{
		TenantID:      tenantID,
		Direction:     dir,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, found := h.loadCall(c, id, c.Param("call_id"))
	if !found {
		return
	}
	success(c, http.StatusOK, call)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, found := h.loadCall(c, id, c.Param("call_id"))
	if !found {
		return
	}
	var req reasonRequest
	// body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	ended, err := h.Calls.EndCall(c.Request.Context(), call.ID, req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, ended)
}

// EscalateCall raises a call's queue priority; the body {reason} is optional.
func (h Handlers) EscalateCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, found := h.loadCall(c, id, c.Param("call_id"))
	if !found {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	escalated, err := h.Calls.EscalateCall(c.Request.Context(), call.ID, req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, escalated)
}

// RouteCall assigns a queued call to the best available agent.
func (h Handlers) RouteCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, found := h.loadCall(c, id, c.Param("call_id"))
	if !found {
		return
	}
	routed, assigned, err := h.Calls.RouteCall(c.Request.Context(), call.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	if !assigned {
		successMessage(c, routed, "no available agent; call remains queued")
		return
	}
	success(c, http.StatusOK, routed)
}

// --- Queue / agents ---

func (h Handlers) QueueStats(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	tenantID := id.TenantID
	if q := c.Query("tenant_id"); q != "" && rbac.IsSuperAdmin(id.Role) {
		tenantID = q
	}
	success(c, http.StatusOK, h.Calls.QueueStats(tenantID))
}

type nextCallRequest struct {
	AgentID string `json:"agent_id"`
}

// NextCall is the agent-pull flow. Agents pull for themselves; admins and supervisors may
// name an agent of their tenant.
func (h Handlers) NextCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req nextCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	agentID := id.AgentID
	if id.Role != rbac.RoleAgent && req.AgentID != "" {
		agentID = req.AgentID
	}
	if agentID == "" {
		fail(c, http.StatusBadRequest, "agent_id required")
		return
	}

	call, assigned, err := h.Calls.AssignNext(c.Request.Context(), id.TenantID, agentID)
	if err != nil {
		failErr(c, err)
		return
	}
	if !assigned {
		successMessage(c, nil, "no queued call matches this agent")
		return
	}
	success(c, http.StatusOK, call)
}

// --- WebRTC signaling ---

type signalRequest struct {
	CallID     string `json:"callId"`
	SignalType string `json:"signalType"`
	Data       struct {
		SDP       string `json:"sdp"`
		Candidate string `json:"candidate"`
	} `json:"data"`
	// Unix milliseconds, optional.
	Timestamp int64 `json:"timestamp"`
}

// Signal returns a handler for one signal type; the route decides the type and a
// mismatching signalType in the body is rejected.
func (h Handlers) Signal(signalType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerIdentity(c)
		if !ok {
			return
		}
		var req signalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
		if req.SignalType != "" && req.SignalType != signalType {
			fail(c, http.StatusBadRequest, "signalType does not match endpoint")
			return
		}
		if req.CallID == "" {
			fail(c, http.StatusBadRequest, "callId required")
			return
		}

		if signalType == orchestrator.SignalICECandidate {
			// ICE candidates for unknown calls are accepted and ignored.
			if call, err := h.Calls.GetCall(c.Request.Context(), req.CallID); err == nil && !rbac.CanAccessTenant(id.Role, id.TenantID, call.TenantID) {
				failErr(c, orchestrator.ErrCallNotFound)
				return
			}
		} else if _, found := h.loadCall(c, id, req.CallID); !found {
			return
		}

		sig := orchestrator.Signal{
			CallID:    req.CallID,
			Type:      signalType,
			SDP:       req.Data.SDP,
			Candidate: req.Data.Candidate,
		}
		if req.Timestamp > 0 {
			sig.Timestamp = time.UnixMilli(req.Timestamp).UTC()
		}
		resp, err := h.Calls.HandleSignal(c.Request.Context(), sig)
		if err != nil {
			failErr(c, err)
			return
		}
		h.relaySignal(sig, id.UserID)
		success(c, http.StatusOK, resp)
	}
}

// relaySignal forwards an accepted HTTP signal to every peer in the call's relay room.
func (h Handlers) relaySignal(sig orchestrator.Signal, from string) {
	if h.Relay == nil {
		return
	}
	msg := relay.SignalMessage{Type: sig.Type, CallID: sig.CallID, From: from, SDP: sig.SDP}
	if sig.Candidate != "" {
		b, _ := json.Marshal(sig.Candidate)
		msg.Candidate = b
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.Relay.Hub().Broadcast(sig.CallID, "", b)
}

// --- Session relay ---

// relayPeerID scopes the relay session id to the caller, so one user cannot take over
// another user's session by guessing its peer_id. Without a user id the hub generates one.
func relayPeerID(userID, requested string) string {
	if userID == "" {
		return ""
	}
	if requested == "" {
		return userID
	}
	return userID + ":" + requested
}

// ServeWS upgrades to the call's relay room. peer_id may be supplied to keep several
// sessions per user apart or to resume one.
func (h Handlers) ServeWS(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, found := h.loadCall(c, id, c.Param("call_id"))
	if !found {
		return
	}
	if call.Status.Terminal() {
		failErr(c, orchestrator.ErrCallNotFound)
		return
	}
	h.Relay.ServeWS(c.Writer, c.Request, call.ID, relayPeerID(id.UserID, c.Query("peer_id")))
}

// --- Reports ---

// reportRequest reads from/to (RFC 3339, default last 24h) and tag from the query.
func (h Handlers) reportRequest(c *gin.Context) (reporting.CallsSummaryRequest, bool) {
	id, ok := callerIdentity(c)
	if !ok {
		return reporting.CallsSummaryRequest{}, false
	}
	req := reporting.CallsSummaryRequest{TenantID: id.TenantID, Range: h.Reports.DefaultRange(), Tag: c.Query("tag")}
	if q := c.Query("tenant_id"); q != "" && rbac.IsSuperAdmin(id.Role) {
		req.TenantID = q
	}
	for key, dst := range map[string]*time.Time{"from": &req.Range.From, "to": &req.Range.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, key+" must be RFC 3339")
			return reporting.CallsSummaryRequest{}, false
		}
		*dst = t.UTC()
	}
	return req, true
}

func (h Handlers) CallsReport(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, out)
}

func (h Handlers) AgentsReport(c *gin.Context) {
	req, ok := h.reportRequest(c)
	if !ok {
		return
	}
	out, err := h.Reports.AgentLoads(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, out)
}

// --- Health ---

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("not ready", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
