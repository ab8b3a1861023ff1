package handlers

import (
	"github.com/gin-gonic/gin"

	"chorus/chat-service/middleware"
	"chorus/chat-service/services"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

type RouterDeps struct {
	Chat      *ChatHandler
	Presence  *services.PresenceTracker
	Hub       *transport.Hub // nil when websocket push is disabled
	Users     middleware.Remember
	JWTSecret string
	Logger    *utils.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(deps.Logger))

	router.GET("/health", HealthCheck)

	auth := middleware.JWTAuth(deps.JWTSecret, deps.Users, deps.Logger)

	ajax := router.Group("/ajax", auth)
	{
		ajax.GET("/poll", deps.Chat.Poll)
		ajax.POST("/poll", deps.Chat.Poll)
		ajax.POST("/send", deps.Chat.Send)
		ajax.POST("/synchronize", deps.Chat.Synchronize)
	}

	router.GET("/stats", auth, Stats(deps.Presence, deps.Hub, deps.Logger))

	if deps.Hub != nil {
		router.GET("/ws", auth, WebSocket(deps.Hub, deps.Logger))
	}

	return router
}
