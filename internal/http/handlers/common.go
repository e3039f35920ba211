package handlers

import (
	"github.com/gin-gonic/gin"
)

// SubjectIDKey is the gin context key holding the resolved caller id.
const SubjectIDKey = "quotaSubjectID"

// SubjectID returns the caller id stored by the subject middleware.
func SubjectID(c *gin.Context) string {
	return c.GetString(SubjectIDKey)
}
