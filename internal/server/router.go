// Package server is the HTTP surface: thin gin handlers that bind requests,
// call the components, and map classified errors onto the wire envelope.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/learner-state/internal/logger"
)

// RouterConfig carries the wired handlers and the request logger.
type RouterConfig struct {
	Handlers *Handlers
	Log      *logger.Logger
}

// NewRouter assembles the gin engine: request logging, panic recovery, CORS,
// and the versioned route tree.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(RequestLogger(cfg.Log.With("component", "server")))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Requested-With"},
	}))

	router.GET("/healthz", cfg.Handlers.Health)

	v1 := router.Group("/v1")
	learner := v1.Group("/orgs/:org/learners/:learner")
	{
		learner.POST("/signals", cfg.Handlers.AcceptSignal)
		learner.POST("/state/apply", cfg.Handlers.ApplyState)
		learner.GET("/state", cfg.Handlers.GetState)
		learner.POST("/decisions", cfg.Handlers.CreateDecision)
		learner.GET("/decisions", cfg.Handlers.ListDecisions)
	}

	return router
}
