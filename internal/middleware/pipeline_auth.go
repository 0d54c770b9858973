package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	appErrors "github.com/deployops/approval-gate/pkg/errors"
	"github.com/deployops/approval-gate/pkg/response"
)

// PipelineTokenHeader carries the shared secret CI presents on intake
// endpoints.
const PipelineTokenHeader = "X-Pipeline-Token"

// PipelineAuth guards the endpoints only CI should call. tokenHash is a
// bcrypt hash of the shared token; an empty hash disables the check for
// local development.
func PipelineAuth(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.Next()
			return
		}
		token := c.GetHeader(PipelineTokenHeader)
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing pipeline token"))
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid pipeline token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
