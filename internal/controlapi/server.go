// Package controlapi exposes the daemon's HTTP control surface: CRUD over
// connections, start/stop/sync-now, the audit log, and settings. It is the
// HTTP counterpart of the tray controller (spec.md's "external
// collaborators" made concrete).
package controlapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
)

// Server wires the SyncManager and Store behind a gin.Engine.
type Server struct {
	manager *syncengine.SyncManager
	store   syncengine.Store
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds the routed engine. Call Handler to obtain an http.Handler
// suitable for http.Server.
func New(manager *syncengine.SyncManager, store syncengine.Store, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{manager: manager, store: store, logger: logger, engine: gin.New()}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(s.requestID)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	{
		v1.GET("/connections", s.listConnections)
		v1.POST("/connections", s.createConnection)
		v1.GET("/connections/:id", s.getConnection)
		v1.PUT("/connections/:id", s.updateConnection)
		v1.DELETE("/connections/:id", s.deleteConnection)

		v1.POST("/connections/:id/start", s.startConnection)
		v1.POST("/connections/:id/stop", s.stopConnection)
		v1.POST("/connections/:id/sync-now", s.syncNow)

		v1.GET("/connections/:id/logs", s.getLogs)

		v1.GET("/settings", s.getSettings)
		v1.PUT("/settings", s.updateSettings)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// requestID stamps every request with a correlation id, logged alongside
// any error the handler produces.
func (s *Server) requestID(c *gin.Context) {
	id := uuid.NewString()
	c.Set("request_id", id)
	c.Writer.Header().Set("X-Request-Id", id)
	c.Next()
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) jsonError(c *gin.Context, status int, err error) {
	s.logger.Error("control api error", "request_id", c.GetString("request_id"), "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}
