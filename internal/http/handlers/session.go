package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/http/response"
	"vcopcoach/internal/storage/sqlite"
)

type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) (domain.Session, error)
	ActiveSession(ctx context.Context) (domain.Session, error)
}

type SessionHandler struct {
	sessions SessionStore
}

func NewSessionHandler(sessions SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create starts a new active session; any previously active one is closed.
func (h *SessionHandler) Create(c *gin.Context) {
	var req struct {
		Topic             string   `json:"topic"`
		VCOPFocus         []string `json:"vcopFocus"`
		ExtraInstructions string   `json:"extraInstructions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" || len(req.VCOPFocus) == 0 {
		response.RespondError(c, http.StatusBadRequest, "Missing topic or focus")
		return
	}
	focus := make([]domain.Dimension, 0, len(req.VCOPFocus))
	for _, f := range req.VCOPFocus {
		focus = append(focus, domain.Dimension(f))
	}
	session, err := h.sessions.CreateSession(c.Request.Context(), domain.Session{
		Topic:             topic,
		VCOPFocus:         focus,
		ExtraInstructions: strings.TrimSpace(req.ExtraInstructions),
	})
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to create session")
		return
	}
	response.RespondOK(c, session)
}

func (h *SessionHandler) Active(c *gin.Context) {
	session, err := h.sessions.ActiveSession(c.Request.Context())
	if errors.Is(err, sqlite.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "No active session")
		return
	}
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to load session")
		return
	}
	response.RespondOK(c, session)
}
