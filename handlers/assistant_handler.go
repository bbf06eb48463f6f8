package handlers

import (
	"context"
	"errors"
	"net/http"

	"dshare-backend/service"

	"github.com/gin-gonic/gin"
)

// Assistant answers helpdesk questions.
type Assistant interface {
	Chat(ctx context.Context, req service.ChatRequest) (*service.ChatResult, error)
}

// AssistantHandler handles HTTP requests for the helpdesk assistant
type AssistantHandler struct {
	assistant Assistant
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(assistant Assistant) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

// Chat handles POST /api/assistant/chat
func (h *AssistantHandler) Chat(c *gin.Context) {
	var body struct {
		Message  string `json:"message" binding:"required"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "message is required",
			},
		})
		return
	}

	result, err := h.assistant.Chat(c.Request.Context(), service.ChatRequest{
		Message:  body.Message,
		Username: body.Username,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := "ASSISTANT_ERROR"
		if errors.Is(err, service.ErrAssistantUnavailable) {
			status = http.StatusServiceUnavailable
			code = "ASSISTANT_UNAVAILABLE"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"reply": result.Reply},
	})
}
