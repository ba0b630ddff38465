package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/adapters/signal"
	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/config"
)

// SetupRouter wires the REST surface and the websocket signaling
// endpoint. REST routes authenticate through middleware; the signaling
// endpoint verifies its own bearer credential before upgrading.
func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator, mod *app.Moderator, verifier *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &Handlers{Orch: orch, Mod: mod}

	api := r.Group("/api", AuthMiddleware(verifier))
	api.GET("/rooms", h.ListRooms)
	api.POST("/rooms/auto-join", h.AutoJoin)
	api.POST("/rooms/join", h.Join)
	api.POST("/rooms/leave", h.Leave)
	api.POST("/reports", h.SubmitReport)

	ws := signal.NewController(orch, verifier, cfg)
	r.GET("/api/ws/signal", func(c *gin.Context) {
		ws.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
