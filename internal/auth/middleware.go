package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const TeacherPasswordHeader = "X-Teacher-Password"

// RequireTeacher aborts with 401 unless the request carries the teacher password.
func (a *Authenticator) RequireTeacher() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.TeacherPasswordMatches(c.GetHeader(TeacherPasswordHeader)) {
			a.log.Warn("Teacher-only request rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
