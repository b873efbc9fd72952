package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoochat/internal/services"
	"github.com/yoockh/yoochat/internal/streaming"
	"github.com/yoockh/yoochat/internal/utils"
)

type AdminHandler struct {
	chat     services.ChatService
	registry *streaming.Registry
	journal  *services.JournalService // nil when Mongo is not configured
}

func NewAdminHandler(chat services.ChatService, registry *streaming.Registry, journal *services.JournalService) *AdminHandler {
	return &AdminHandler{chat: chat, registry: registry, journal: journal}
}

func (h *AdminHandler) Streams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"health":  h.chat.GetHealth(),
		"streams": h.registry.Snapshot(),
	})
}

// Outcomes summarizes finished streams over ?window= (default 24h).
func (h *AdminHandler) Outcomes(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, APIError{Code: utils.CodeUnavailable, Message: "stream journal disabled"})
		return
	}

	window := 24 * time.Hour
	if s := c.Query("window"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			window = d
		}
	}

	counts, err := h.journal.Outcomes(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIError{Code: utils.CodeInternal, Message: "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window.String(), "outcomes": counts})
}

// UserStreams lists a user's recently finished streams from the journal.
func (h *AdminHandler) UserStreams(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, APIError{Code: utils.CodeUnavailable, Message: "stream journal disabled"})
		return
	}

	userID := c.Param("user_id")
	if userID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AdminHandler.UserStreams", "missing user_id", nil))
		return
	}

	var limit int64 = 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := h.journal.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "AdminHandler.UserStreams", "failed to read journal", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "streams": logs})
}
