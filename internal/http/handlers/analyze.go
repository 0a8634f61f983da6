package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/http/response"
	"vcopcoach/internal/pipeline"
)

const (
	msgAPIKey         = "API key is missing or invalid."
	msgAnalysisFailed = "Something went wrong analysing your writing. Please try again."
	msgNoWriting      = "Please provide some writing to analyse."
	msgBadBody        = "Invalid request body"
)

type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

type AnalyzeHandler struct {
	analyzer Analyzer
}

func NewAnalyzeHandler(analyzer Analyzer) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer}
}

func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	resp, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, pipeline.ErrInvalidInput):
			response.RespondError(c, http.StatusBadRequest, msgNoWriting)
		case errors.Is(err, pipeline.ErrUpstreamAuth):
			response.RespondError(c, http.StatusInternalServerError, msgAPIKey)
		default:
			response.RespondError(c, http.StatusInternalServerError, msgAnalysisFailed)
		}
		return
	}
	response.RespondOK(c, resp)
}
