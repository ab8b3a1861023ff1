package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chorus/chat-service/middleware"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket upgrades GET /ws and attaches the socket to the push hub
func WebSocket(hub *transport.Hub, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("Websocket upgrade failed", "error", err)
			return
		}

		conn := transport.NewConn(uuid.NewString(), middleware.UserID(c), ws, hub)
		conn.Start()
	}
}
