package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/services"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "chat-service",
		Timestamp: time.Now(),
	})
}

type StatsResponse struct {
	Online      int `json:"online"`
	PushClients int `json:"push_clients"`
}

// Stats reports online users and attached push clients
func Stats(presence *services.PresenceTracker, hub *transport.Hub, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		online, err := presence.ListOnline(c.Request.Context())
		if err != nil {
			logger.Error("Failed to list online users", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read presence"})
			return
		}

		resp := StatsResponse{Online: len(online)}
		if hub != nil {
			resp.PushClients = hub.Clients()
		}
		c.JSON(http.StatusOK, resp)
	}
}
