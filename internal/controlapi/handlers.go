package controlapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
)

type connectionRequest struct {
	Name            string              `json:"name" binding:"required"`
	Host            string              `json:"host" binding:"required"`
	Port            int                 `json:"port"`
	Username        string              `json:"username" binding:"required"`
	AuthType        syncengine.AuthType `json:"auth_type"`
	Password        string              `json:"password"`
	PrivateKeyPath  string              `json:"private_key_path"`
	Passphrase      string              `json:"passphrase"`
	RemotePath      string              `json:"remote_path" binding:"required"`
	LocalPath       string              `json:"local_path" binding:"required"`
	IntervalSeconds int                 `json:"interval_seconds"`
	Enabled         bool                `json:"enabled"`
	AllowDelete     bool                `json:"allow_delete"`
	LocalPriority   bool                `json:"local_priority"`
}

func (r connectionRequest) toConnection(id int64) *syncengine.Connection {
	return &syncengine.Connection{
		ID:              id,
		Name:            r.Name,
		Host:            r.Host,
		Port:            r.Port,
		Username:        r.Username,
		AuthType:        r.AuthType,
		Password:        r.Password,
		PrivateKeyPath:  r.PrivateKeyPath,
		Passphrase:      r.Passphrase,
		RemotePath:      r.RemotePath,
		LocalPath:       r.LocalPath,
		IntervalSeconds: r.IntervalSeconds,
		Enabled:         r.Enabled,
		AllowDelete:     r.AllowDelete,
		LocalPriority:   r.LocalPriority,
	}
}

func (s *Server) listConnections(c *gin.Context) {
	conns, err := s.store.ListConnections(c.Request.Context())
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

func (s *Server) getConnection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	conn, err := s.store.GetConnection(c.Request.Context(), id)
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (s *Server) createConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn := req.toConnection(0)
	if err := conn.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.store.CreateConnection(c.Request.Context(), conn)
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	conn.ID = id
	if conn.Enabled {
		if err := s.manager.StartConnection(c.Request.Context(), conn); err != nil {
			s.logger.Error("autostart connection", "connection_id", id, "error", err)
		}
	}
	c.JSON(http.StatusCreated, conn)
}

func (s *Server) updateConnection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn := req.toConnection(id)
	if err := conn.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := s.store.UpdateConnection(ctx, conn); err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.manager.RefreshConnection(ctx, conn); err != nil {
		s.logger.Error("refresh connection", "connection_id", id, "error", err)
	}
	c.JSON(http.StatusOK, conn)
}

func (s *Server) deleteConnection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.manager.RemoveConnection(id); err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.DeleteConnection(c.Request.Context(), id); err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startConnection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	s.withConnection(c, id, func(ctx context.Context, conn *syncengine.Connection) {
		if err := s.manager.StartConnection(ctx, conn); err != nil {
			s.jsonError(c, http.StatusInternalServerError, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func (s *Server) stopConnection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.manager.StopConnection(id); err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) syncNow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	s.manager.SyncNow(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) withConnection(c *gin.Context, id int64, fn func(ctx context.Context, conn *syncengine.Connection)) {
	ctx := c.Request.Context()
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	fn(ctx, conn)
}

func (s *Server) getLogs(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	logs, err := s.store.GetLogs(c.Request.Context(), id, 0)
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.store.GetSettings(c.Request.Context())
	if err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) updateSettings(c *gin.Context) {
	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateSettings(c.Request.Context(), values); err != nil {
		s.jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}
