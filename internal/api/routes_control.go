package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/reply"
)

// maxSpeed is the largest accepted game speed multiplier.
const maxSpeed = 100

type speedRequest struct {
	Speed *float64 `json:"speed" binding:"required"`
}

type saveRequest struct {
	Name string `json:"name"`
}

type pauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

type playersResponse struct {
	rcon.Result
	Players *reply.PlayerList `json:"players,omitempty"`
}

func (s *Server) handleTime(c *gin.Context) {
	s.execute(c, rcon.CmdTime)
}

// handlePlayers adds the parsed listing when the reply is recognized.
func (s *Server) handlePlayers(c *gin.Context) {
	res := s.deps.Executor.Execute(c.Request.Context(), rcon.CmdPlayers)
	resp := playersResponse{Result: res}
	if res.OK() {
		if list, err := reply.ParsePlayers(res.Message); err == nil {
			resp.Players = &list
		}
	}
	c.JSON(resultStatus(res), resp)
}

// handleSpeed sets the game speed; 0 < speed <= 100.
func (s *Server) handleSpeed(c *gin.Context) {
	var req speedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speed is required"})
		return
	}
	if *req.Speed <= 0 || *req.Speed > maxSpeed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speed must be greater than 0 and at most 100"})
		return
	}
	s.execute(c, rcon.SpeedCommand(*req.Speed))
}

// handleSave triggers a server-side save. An empty body saves under the
// current name.
func (s *Server) handleSave(c *gin.Context) {
	var req saveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	s.execute(c, rcon.SaveCommand(req.Name))
}

func (s *Server) handlePause(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paused is required"})
		return
	}
	s.execute(c, rcon.PauseCommand(*req.Paused))
}

// handleCommand forwards a raw console command.
func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	s.execute(c, strings.TrimSpace(req.Command))
}

func (s *Server) execute(c *gin.Context, command string) {
	res := s.deps.Executor.Execute(c.Request.Context(), command)
	c.JSON(resultStatus(res), res)
}

// resultStatus maps a command result to an HTTP status code.
func resultStatus(res rcon.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	switch res.Kind {
	case rcon.KindTimeout:
		return http.StatusGatewayTimeout
	case rcon.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
