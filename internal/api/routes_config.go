package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const redacted = "********"

// handleGetConfig returns the effective configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	rc := s.cfg.GetRCON()
	srv := s.cfg.GetServer()
	app := s.cfg.GetApplicationData()

	if rc.Password != "" {
		rc.Password = redacted
	}
	if app.API.Token != "" {
		app.API.Token = redacted
	}
	if app.MQTT.Password != "" {
		app.MQTT.Password = redacted
	}
	if app.Webhook.URL != "" {
		app.Webhook.URL = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"rcon":             rc,
		"server":           srv,
		"application_data": app,
	})
}
