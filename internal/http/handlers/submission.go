package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/http/response"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/storage/sqlite"
)

const studentHistoryLimit = 50

type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	ListSubmissionsByStudent(ctx context.Context, studentID string, limit int) ([]domain.Submission, error)
	SetTeacherComment(ctx context.Context, submissionID, comment, original string) error
}

type SubmissionHandler struct {
	submissions SubmissionStore
	grader      Grader
	profiles    ProfileUpdater
	log         *logger.Logger
}

func NewSubmissionHandler(submissions SubmissionStore, grader Grader, profiles ProfileUpdater, log *logger.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		grader:      grader,
		profiles:    profiles,
		log:         logger.OrNop(log).With("handler", "submissions"),
	}
}

func (h *SubmissionHandler) Get(c *gin.Context) {
	sub, err := h.submissions.GetSubmission(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "Submission not found")
		return
	}
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to load submission")
		return
	}
	response.RespondOK(c, sub)
}

// ListByStudent returns a student's submissions, newest first.
func (h *SubmissionHandler) ListByStudent(c *gin.Context) {
	subs, err := h.submissions.ListSubmissionsByStudent(c.Request.Context(), c.Param("id"), studentHistoryLimit)
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to list submissions")
		return
	}
	if subs == nil {
		subs = []domain.Submission{}
	}
	response.RespondOK(c, subs)
}

// Comment proof-reads the teacher's comment, stores it on the submission and
// copies it into the student's profile notes. A failed proof-read or note
// sync never blocks saving the comment.
func (h *SubmissionHandler) Comment(c *gin.Context) {
	var req struct {
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	original := strings.TrimSpace(req.Comment)
	if original == "" {
		response.RespondError(c, http.StatusBadRequest, "Missing comment")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	sub, err := h.submissions.GetSubmission(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "Submission not found")
		return
	}
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to save comment")
		return
	}

	final, hasChanges := original, false
	if checked, err := h.grader.CheckGrammar(ctx, original); err != nil {
		h.log.Warn("Grammar check failed, saving original comment", "submission_id", id, "error", err)
	} else if checked.Corrected != "" {
		final, hasChanges = checked.Corrected, checked.HasChanges
	}

	if err := h.submissions.SetTeacherComment(ctx, id, final, original); err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to save comment")
		return
	}
	if sub.StudentID != "" {
		if err := h.profiles.AddTeacherNote(ctx, sub.StudentID, final, sub.SessionTopic); err != nil {
			h.log.Warn("Failed to sync teacher note to profile", "student_id", sub.StudentID, "error", err)
		}
	}
	response.RespondOK(c, gin.H{"comment": final, "original": original, "hasChanges": hasChanges})
}
