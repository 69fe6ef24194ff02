package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/app"
	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/ice"
	"github.com/intervue/interview-rtc/internal/signaling"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable participant identity to each
// browser; the signaling layer uses it as the participant id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware honors the configured origin allowlist.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Deps carries everything the REST surface needs.
type Deps struct {
	Cfg   *config.Config
	Coord *app.Coordinator
	ICE   *ice.Service
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	if d.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(d.Cfg.CORSOrigins))

	store := cookie.NewStore([]byte(d.Cfg.Secret))
	r.Use(sessions.Sessions("InterviewSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &Handlers{Deps: d}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/ice-config", h.ICEConfig)
	api.POST("/test-connectivity", h.TestConnectivity)
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:sessionId", h.SessionInfo)
	api.POST("/sessions/:sessionId/chunks", h.IngestChunk)

	ctl := signaling.NewController(d.Coord.Sessions, d.Cfg.Signaling)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("participant", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
