package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconbridge/internal/saves"
	"github.com/energizer-project/rconbridge/internal/server"
)

// handleListSaves lists the save directory, newest first.
func (s *Server) handleListSaves(c *gin.Context) {
	records, err := s.deps.Store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []saves.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"saves": records,
		"total": len(records),
	})
}

// handleLoadSave restarts the server on the named save.
func (s *Server) handleLoadSave(c *gin.Context) {
	if !s.swapAvailable(c) {
		return
	}

	name := c.Param("name")
	res, err := s.deps.Orchestrator.LoadSave(c.Request.Context(), name)
	if err != nil {
		s.writeSwapError(c, err)
		return
	}

	s.logger.Info().
		Str("save", res.Save).
		Str("operation_id", res.OperationID).
		Str("request_id", c.GetString(requestIDKey)).
		Msg("save loaded via API")

	c.JSON(http.StatusOK, gin.H{
		"status":       "loaded",
		"save":         res.Save,
		"operation_id": res.OperationID,
		"duration_ms":  res.Duration.Milliseconds(),
	})
}

// handleUploadSave stores a multipart "file" as the canonical upload and,
// when auto_load is true, loads it.
func (s *Server) handleUploadSave(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "save management is not available"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	autoLoad := false
	if v := c.PostForm("auto_load"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "auto_load must be a boolean"})
			return
		}
		autoLoad = b
	}
	if autoLoad && !s.swapAvailable(c) {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	res, err := s.deps.Orchestrator.UploadSave(c.Request.Context(), f, autoLoad)
	if err != nil {
		s.writeSwapError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) swapAvailable(c *gin.Context) bool {
	if s.deps.Orchestrator == nil || !s.cfg.SwapEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "save loading is disabled: no server executable configured",
		})
		return false
	}
	return true
}

// writeSwapError maps orchestrator errors to HTTP status codes.
func (s *Server) writeSwapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, saves.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, saves.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, server.ErrSwapInProgress):
		status = http.StatusConflict
	case errors.Is(err, server.ErrProcess):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("save operation failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
