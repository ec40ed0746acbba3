package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

const clientTokenKey = "client_token"

// RecordingSource hands out the most recent saved recording.
type RecordingSource interface {
	Latest() (*domain.Artifact, error)
}

type Deps struct {
	Sessions   *app.SessionHolder
	Recordings RecordingSource
	Hub        core.WatcherHub
	Limiter    *signal.CallRateLimiter
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable token kept in the
// cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Str("module", "adapters.http").Err(err).Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("PeercallSession", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{d: d}
	events := &signal.EventsWSController{
		Hub:          d.Hub,
		Snapshot:     h.snapshot,
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.Signal.WriteTimeout,
		Buffer:       cfg.API.WatcherBuffer,
	}

	api := r.Group("/api")
	api.GET("/session", h.getSession)
	api.POST("/session/restart", func(c *gin.Context) { h.restart(ctx, c) })

	api.POST("/media", h.acquireMedia)
	api.PUT("/target", h.setTarget)

	api.POST("/call", h.placeCall)
	api.POST("/call/accept", h.acceptCall)
	api.POST("/call/reject", h.rejectCall)
	api.DELETE("/call", h.endCall)

	api.POST("/audio/toggle", h.toggleAudio)
	api.POST("/video/toggle", h.toggleVideo)

	api.GET("/screen", h.screenSupport)
	api.POST("/screen", h.startScreen)
	api.DELETE("/screen", h.stopScreen)

	api.POST("/recording", h.startRecording)
	api.DELETE("/recording", h.stopRecording)
	api.GET("/recordings/latest", h.latestRecording)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws events endpoint hit")
		events.HandleEvents(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
