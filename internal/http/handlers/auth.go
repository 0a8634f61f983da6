package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/auth"
	"vcopcoach/internal/http/response"
)

type AuthHandler struct {
	auth *auth.Authenticator
}

func NewAuthHandler(a *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Role      string `json:"role"`
		Password  string `json:"password"`
		StudentID string `json:"studentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	id, err := h.auth.Login(c.Request.Context(), req.Role, req.Password, req.StudentID)
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, authStatus(err), authMessage(err, "Authentication failed"))
		return
	}
	response.RespondOK(c, id)
}

func (h *AuthHandler) ListStudents(c *gin.Context) {
	students, err := h.auth.ListStudents(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "Failed to list students")
		return
	}
	type studentView struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		YearGroup *int   `json:"yearGroup"`
	}
	out := make([]studentView, 0, len(students))
	for _, s := range students {
		out = append(out, studentView{ID: s.ID, Name: s.Name, YearGroup: s.YearGroup})
	}
	response.RespondOK(c, out)
}

func (h *AuthHandler) CreateStudent(c *gin.Context) {
	var req struct {
		StudentID string `json:"studentId"`
		Name      string `json:"name"`
		Password  string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	if _, err := h.auth.AddStudent(c.Request.Context(), req.StudentID, req.Name, req.Password); err != nil {
		_ = c.Error(err)
		response.RespondError(c, authStatus(err), authMessage(err, "Failed to create student"))
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (h *AuthHandler) DeleteStudent(c *gin.Context) {
	var req struct {
		StudentID string `json:"studentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, msgBadBody)
		return
	}
	if err := h.auth.DeleteStudent(c.Request.Context(), req.StudentID); err != nil {
		_ = c.Error(err)
		status := authStatus(err)
		if errors.Is(err, auth.ErrUnknownStudent) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, authMessage(err, "Failed to delete student"))
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrMissingStudentID),
		errors.Is(err, auth.ErrIncompleteStudent),
		errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrBadCredentials), errors.Is(err, auth.ErrUnknownStudent):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrStudentExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// authMessage passes the auth package's own messages through and hides
// anything else behind fallback.
func authMessage(err error, fallback string) string {
	for _, known := range []error{
		auth.ErrMissingCredentials, auth.ErrMissingStudentID, auth.ErrIncompleteStudent,
		auth.ErrInvalidRole, auth.ErrBadCredentials, auth.ErrUnknownStudent,
		auth.ErrTeacherNotConfigured, auth.ErrStudentExists,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return fallback
}
