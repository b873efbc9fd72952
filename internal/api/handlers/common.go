package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoochat/internal/utils"
)

// agentRetryAfter is the Retry-After hint, in seconds, sent while the agent
// is unavailable. It matches the default health probe interval.
const agentRetryAfter = "30"

type APIError struct {
	Code      utils.Code `json:"code"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
}

// writeError renders err as an APIError. Server-side failures are attached to
// the gin context so the request logger records the cause.
func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	body := APIError{
		Code:      utils.CodeInternal,
		Message:   http.StatusText(status),
		RequestID: c.GetString("request_id"),
	}

	var ae *utils.AppError
	if errors.As(err, &ae) {
		body.Code = ae.Code
		body.Message = ae.Message
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if body.Code == utils.CodeUnavailable {
		c.Header("Retry-After", agentRetryAfter)
	}
	c.JSON(status, body)
}

// requireUserID returns the caller set by JWTAuth or writes 401.
func requireUserID(c *gin.Context) (string, bool) {
	if s := c.GetString("user_id"); s != "" {
		return s, true
	}
	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}
