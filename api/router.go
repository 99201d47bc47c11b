// Package api assembles the gateway's two HTTP listeners: the frontend that
// mints signed stream URLs and the backend that serves them.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/api/handler"
	"github.com/ddevcap/streamgate/api/middleware"
	"github.com/ddevcap/streamgate/config"
)

// newEngine builds a gin engine with the shared middleware chain: recovery,
// request-id logging, user-agent filtering, reverse-proxy filtering and
// CORS (which also short-circuits OPTIONS preflight).
func newEngine(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.UserAgentFilter(cfg),
		middleware.ReverseProxyFilter(cfg),
		corsMiddleware(),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return r
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	})
}

// NewFrontendRouter serves the playback surface: video requests resolve to
// a signed redirect at the backend. Clients may prefix routes with /emby,
// and path casing follows whichever client is asking.
func NewFrontendRouter(cfg config.Config, resolver *handler.Resolver) http.Handler {
	r := newEngine(cfg)
	for _, base := range []string{"", "/emby"} {
		group := r.Group(base)
		group.GET("/videos/:itemId/*subpath", resolver.Video)
		group.GET("/Videos/:itemId/*subpath", resolver.Video)
	}
	return r
}

// NewBackendRouter serves the byte surface: the signed stream endpoint plus
// HLS playlist/segment files.
func NewBackendRouter(cfg config.Config, streamer *handler.Streamer, hlsHandler *handler.HLS) http.Handler {
	r := newEngine(cfg)
	r.GET(cfg.BackendPath, streamer.Stream)
	r.GET("/videos/:itemId/*file", hlsHandler.ServeFile)
	r.GET("/Videos/:itemId/*file", hlsHandler.ServeFile)
	return r
}
