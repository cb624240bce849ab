package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AskInput is the admin's analytics question.
type AskInput struct {
	Question string `json:"question" binding:"required,max=2000"`
}

// AskAssistant handles POST /v1/admin/assistant
func (h *Handlers) AskAssistant(c *gin.Context) {
	// 1. Assistant is optional
	if h.Assistant == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "The assistant is not configured"})
		return
	}

	// 2. Parse Input
	var input AskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 3. Ask
	answer, err := h.Assistant.Ask(c.Request.Context(), input.Question)
	if err != nil {
		h.Logger.Error("assistant failed", zap.Int64("userId", currentUserID(c)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "The assistant could not answer right now"})
		return
	}

	h.Logger.Info("assistant answered",
		zap.Int64("userId", currentUserID(c)),
		zap.Int("tokens", answer.TotalTokens),
	)
	c.JSON(http.StatusOK, answer)
}
