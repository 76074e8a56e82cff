package main

import (
	"log/slog"

	"contact-center/internal/config"
	"contact-center/internal/events"
	"contact-center/internal/httpapi"
	"contact-center/internal/orchestrator"
	"contact-center/internal/queue"
	"contact-center/internal/relay"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/signaling"

	"github.com/gin-gonic/gin"
)

// app is the wired service graph.
type app struct {
	calls    *orchestrator.Service
	handlers httpapi.Handlers
}

func newApp(cfg config.Config, be *backends, log *slog.Logger) *app {
	q := queue.NewManager()
	engine := signaling.NewEngine(signaling.NewRegistry(), cfg.WebRTC.ICEServers, log)

	svc := orchestrator.NewService(orchestrator.Deps{
		Recorder: be.recorder,
		Events:   events.NewService(be.events, log),
		Queue:    q,
		Engine:   engine,
		Matcher:  routing.NewMatcher(be.directory, q, log),
		Limiter:  be.limiter,
		Log:      log,
	}, orchestrator.Options{
		HandshakeTimeout: cfg.WebRTC.HandshakeTimeout,
		QueueMaxWait:     cfg.Queue.MaxWait,
		CallRetention:    cfg.Queue.CallRetention,
	})

	hub := relay.NewHub(cfg.Relay.SendBuffer, log).WithObserver(svc).WithSignals(svc)
	ws := relay.NewServer(hub, relay.WSConfig{
		PongWait:    cfg.Relay.PongWait,
		CheckOrigin: relay.AllowOrigins(cfg.Relay.AllowedOrigins...),
	})

	return &app{
		calls: svc,
		handlers: httpapi.Handlers{
			Calls:   svc,
			Relay:   ws,
			Reports: reporting.NewService(be.reports),
			Ready:   be.Ready,
		},
	}
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, authMW gin.HandlerFunc) {
	a.handlers.Register(r, authMW)
}
