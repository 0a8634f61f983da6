package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/http/response"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/profile"
)

type ProfileUpdater interface {
	Update(ctx context.Context, studentID string, annotations []domain.Annotation, topic string) (domain.StudentProfile, error)
	AddTeacherNote(ctx context.Context, studentID, comment, topic string) error
}

type ProfileHandler struct {
	profiles ProfileUpdater
}

func NewProfileHandler(profiles ProfileUpdater) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// UpdateProfile runs a profile update synchronously. The analyze route
// schedules the same work in the background when auto-update is enabled.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		StudentID    string              `json:"studentId"`
		Annotations  []domain.Annotation `json:"annotations"`
		SessionTopic string              `json:"sessionTopic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	updated, err := h.profiles.Update(c.Request.Context(), req.StudentID, req.Annotations, req.SessionTopic)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, profile.ErrMissingStudent), errors.Is(err, profile.ErrNoAnnotations):
			response.RespondError(c, http.StatusBadRequest, err.Error())
		case llm.IsAuthError(err):
			response.RespondError(c, http.StatusInternalServerError, msgAPIKey)
		default:
			response.RespondError(c, http.StatusInternalServerError, "Failed to update profile")
		}
		return
	}
	response.RespondOK(c, gin.H{"success": true, "totalSubmissions": updated.TotalSubmissions})
}
