package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/grading"
	"vcopcoach/internal/http/response"
	"vcopcoach/internal/integrations/llm"
)

type Grader interface {
	Grade(ctx context.Context, text, studentID string) (grading.Grade, error)
	CheckGrammar(ctx context.Context, text string) (grading.GrammarResult, error)
}

type GradingHandler struct {
	grader Grader
}

func NewGradingHandler(grader Grader) *GradingHandler {
	return &GradingHandler{grader: grader}
}

func (h *GradingHandler) Grade(c *gin.Context) {
	var req struct {
		Text      string `json:"text"`
		StudentID string `json:"studentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	grade, err := h.grader.Grade(c.Request.Context(), req.Text, req.StudentID)
	if err != nil {
		respondModelError(c, err, "No text provided.", "Failed to grade writing.")
		return
	}
	response.RespondOK(c, grade)
}

func (h *GradingHandler) GrammarCheck(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	result, err := h.grader.CheckGrammar(c.Request.Context(), req.Text)
	if err != nil {
		respondModelError(c, err, "Please provide text to check.", "Grammar check failed. Please try again.")
		return
	}
	response.RespondOK(c, result)
}

func respondModelError(c *gin.Context, err error, emptyMsg, failMsg string) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, grading.ErrEmptyText):
		response.RespondError(c, http.StatusBadRequest, emptyMsg)
	case llm.IsAuthError(err):
		response.RespondError(c, http.StatusInternalServerError, msgAPIKey)
	default:
		response.RespondError(c, http.StatusInternalServerError, failMsg)
	}
}
