package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/http/handlers"
	"github.com/router-for-me/tokenquota/internal/quota"
	log "github.com/sirupsen/logrus"
)

// QuotaMiddleware rejects callers whose allowance is exhausted in any limiter.
// With no limiters every request passes.
func QuotaMiddleware(limiters []quota.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(limiters) == 0 {
			c.Next()
			return
		}

		errAdmit := quota.EnsureAvailable(c.Request.Context(), limiters, handlers.SubjectID(c))
		if errAdmit == nil {
			c.Next()
			return
		}

		if exceeded, ok := quota.IsQuotaExceeded(errAdmit); ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     exceeded.Error(),
				"available": exceeded.Available,
			})
			return
		}
		log.WithError(errAdmit).Error("quota middleware error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Quota service error"})
	}
}
