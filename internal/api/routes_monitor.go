package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconbridge/internal/util"
)

// handleStatus reports process state, RCON connectivity, host resources and
// save directory usage.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"version":        s.deps.Version,
		"rcon_address":   s.deps.Executor.Config().Addr(),
		"rcon_connected": s.deps.Executor.Connected(),
		"swap_enabled":   s.cfg.SwapEnabled(),
		"system":         util.GetSystemInfo(),
	}

	if s.deps.Orchestrator != nil {
		resp["process"] = s.deps.Orchestrator.Snapshot()
	}
	if s.deps.Process != nil {
		resp["process_stats"] = s.deps.Process.Stats()
	}

	if s.deps.Store != nil {
		if count, size, err := s.deps.Store.Usage(); err == nil {
			resp["saves"] = gin.H{"count": count, "total_bytes": size}
		}
		if disk, err := util.GetDiskUsage(s.deps.Store.Dir()); err == nil {
			resp["disk"] = disk
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleHistory returns recent commands, transitions and swaps. ?limit
// applies to each list.
func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not available"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	commands, err := s.deps.History.RecentCommands(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	transitions, err := s.deps.History.RecentTransitions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	swaps, err := s.deps.History.RecentSwaps(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commands":    commands,
		"transitions": transitions,
		"swaps":       swaps,
	})
}
