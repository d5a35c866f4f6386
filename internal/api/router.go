package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceads/internal/api/handlers"
	"github.com/your-org/faceads/internal/api/ws"
	"github.com/your-org/faceads/internal/auth"
	"github.com/your-org/faceads/internal/display"
)

type RouterConfig struct {
	APIKey           string
	CORSAllowOrigins []string
	Offer            string
	Store            handlers.MemberReader
	Renderer         *display.Renderer
	Hub              *ws.Hub
	Checks           []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))

	// System endpoints
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/health", systemH.Healthz)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Signage
	memberH := handlers.NewMemberHandler(cfg.Store, cfg.Renderer, cfg.Offer)
	r.GET("/", memberH.Index)
	r.GET("/latest", memberH.Latest)
	r.GET("/ad", memberH.Ad)
	r.GET("/ws", cfg.Hub.HandleWS)

	// Admin API
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	v1.GET("/members", memberH.List)
	v1.GET("/members/:id", memberH.Get)

	return r
}

// corsConfig allows the listed origins with credentials. With no list every
// origin is reflected back.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
