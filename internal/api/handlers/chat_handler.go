package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoochat/internal/services"
	"github.com/yoockh/yoochat/internal/utils"
)

type ChatHandler struct {
	chat     services.ChatService
	messages services.MessageService
}

func NewChatHandler(chat services.ChatService, messages services.MessageService) *ChatHandler {
	return &ChatHandler{chat: chat, messages: messages}
}

type SendRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *ChatHandler) Typing(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := h.chat.OnUserTyping(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) Send(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Send", "invalid request body", err))
		return
	}

	if err := h.chat.OnUserSend(c.Request.Context(), userID, req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "buffered"})
}

func (h *ChatHandler) Stop(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := h.chat.OnUserStop(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.chat.GetHealth())
}

// Messages lists the caller's persisted AI responses, oldest first.
// ?before=<RFC3339> pages backwards.
func (h *ChatHandler) Messages(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var before time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Messages", "before must be RFC3339", err))
			return
		}
		before = t
	}

	rows, err := h.messages.ListMine(c.Request.Context(), userID, before, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	// Repo returns DESC; clients render ASC
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	c.JSON(http.StatusOK, gin.H{"messages": rows})
}
