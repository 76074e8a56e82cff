package httpapi

import (
	"contact-center/internal/orchestrator"
	"contact-center/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires every route onto r. authMW verifies the access token; RBAC and tenant
// checks are layered per group.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	r.GET("/healthz", Healthz)
	r.GET("/readyz", h.Readyz)

	api := r.Group("/")
	api.Use(authMW, rbac.RequireTenant())

	staff := []string{rbac.RoleTenantAdmin, rbac.RoleSupervisor, rbac.RoleAgent}
	staffOrService := []string{rbac.RoleTenantAdmin, rbac.RoleSupervisor, rbac.RoleAgent, rbac.RoleService}

	callsGroup := api.Group("/calls")
	{
		callsGroup.POST("", rbac.RequireAnyRole(staffOrService...), h.CreateCall)
		callsGroup.GET("/:call_id", rbac.RequireAnyRole(staffOrService...), h.GetCall)
		callsGroup.POST("/:call_id/end", rbac.RequireAnyRole(staffOrService...), h.EndCall)
		callsGroup.POST("/:call_id/escalate", rbac.RequireAnyRole(staffOrService...), h.EscalateCall)
		callsGroup.POST("/:call_id/route", rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RoleSupervisor, rbac.RoleService), h.RouteCall)
	}

	webrtc := api.Group("/webrtc")
	webrtc.Use(rbac.RequireAnyRole(staffOrService...))
	{
		webrtc.POST("/offer", h.Signal(orchestrator.SignalOffer))
		webrtc.POST("/answer", h.Signal(orchestrator.SignalAnswer))
		webrtc.POST("/ice-candidate", h.Signal(orchestrator.SignalICECandidate))
	}

	api.GET("/queues/stats", rbac.RequireAnyRole(staff...), h.QueueStats)
	api.POST("/agents/next-call", rbac.RequireAnyRole(staff...), h.NextCall)

	reports := api.Group("/reports")
	reports.Use(rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RoleSupervisor))
	{
		reports.GET("/calls", h.CallsReport)
		reports.GET("/agents", h.AgentsReport)
	}

	api.GET("/ws/:call_id", rbac.RequireAnyRole(staff...), h.ServeWS)
}
