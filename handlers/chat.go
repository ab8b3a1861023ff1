package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/middleware"
	"chorus/chat-service/services"
	"chorus/chat-service/utils"
)

type ChatHandler struct {
	poller *services.Poller
	sender *services.Sender
	syncer *services.Synchronizer
	logger *utils.Logger
}

func NewChatHandler(poller *services.Poller, sender *services.Sender, syncer *services.Synchronizer, logger *utils.Logger) *ChatHandler {
	return &ChatHandler{
		poller: poller,
		sender: sender,
		syncer: syncer,
		logger: logger,
	}
}

// Poll handles GET|POST /ajax/poll
func (h *ChatHandler) Poll(c *gin.Context) {
	userID := middleware.UserID(c)
	last := parseCursor(c)

	result, err := h.poller.Poll(c.Request.Context(), userID, last)
	if err != nil {
		// clients poll again shortly; answer with a no-op rather than an error
		h.logger.Error("Poll failed", "user_id", userID, "last", last, "error", err)
	}

	c.JSON(http.StatusOK, result)
}

// Send handles POST /ajax/send
func (h *ChatHandler) Send(c *gin.Context) {
	userID := middleware.UserID(c)

	_, err := h.sender.OnSend(c.Request.Context(), userID, c.PostForm("data"), c.PostForm("to"))
	if err != nil {
		status := http.StatusOK
		if !services.IsClientError(err) {
			status = http.StatusInternalServerError
			h.logger.Error("Send failed", "user_id", userID, "error", err)
		}
		c.JSON(status, false)
		return
	}

	c.JSON(http.StatusOK, true)
}

// Synchronize handles POST /ajax/synchronize
func (h *ChatHandler) Synchronize(c *gin.Context) {
	event, err := h.syncer.Synchronize(c.Request.Context())
	if err != nil {
		h.logger.Error("Synchronize failed", "user_id", middleware.UserID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to synchronize",
		})
		return
	}

	c.JSON(http.StatusOK, event)
}

// parseCursor reads "last" from the query string or form body. Anything that
// is not a non-negative integer counts as a first load.
func parseCursor(c *gin.Context) int64 {
	raw, ok := c.GetQuery("last")
	if !ok {
		raw = c.PostForm("last")
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || last < 0 {
		return 0
	}
	return last
}
