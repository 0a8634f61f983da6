package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorEnvelope is the body of every non-2xx response. Clients read data.error.
type ErrorEnvelope struct {
	Error string `json:"error"`
}

func RespondError(c *gin.Context, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.JSON(status, ErrorEnvelope{Error: msg})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
