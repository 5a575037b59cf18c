package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/config"
	"github.com/vovakirdan/spacerelay/internal/core"
)

// NewServer builds an HTTP server with the watcher socket, the space dump
// API, health and metrics routes. Journal routes are mounted when journal is
// not nil.
func NewServer(hub *core.Hub, cfg *config.Config, journal JournalReader, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	spaces := NewSpaceHandlers(hub, logger)
	api := router.Group("/api")
	{
		api.GET("/spaces", spaces.ListSpaces)
		api.GET("/spaces/:name", spaces.GetSpace)
	}
	if journal != nil {
		history := NewJournalHandlers(journal, logger)
		api.GET("/journal/spaces", history.ListStoredSpaces)
		api.GET("/journal/spaces/:name", history.GetHistory)
	}

	// The socket bypasses gin: its response writer refuses to hijack after
	// the upgrade response is written.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
