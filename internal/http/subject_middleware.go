package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/config"
	"github.com/router-for-me/tokenquota/internal/http/handlers"
	"github.com/router-for-me/tokenquota/internal/security"
)

// SubjectMiddleware resolves the caller id from a bearer JWT when a secret is configured,
// otherwise from the configured header, and stores it in the gin context.
func SubjectMiddleware(auth config.AuthConfig) gin.HandlerFunc {
	secret := strings.TrimSpace(auth.JWTSecret)
	header := strings.TrimSpace(auth.UserIDHeader)
	return func(c *gin.Context) {
		if secret == "" {
			subjectID := strings.TrimSpace(c.GetHeader(header))
			if subjectID == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + header + " header"})
				return
			}
			c.Set(handlers.SubjectIDKey, subjectID)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token, ok := security.BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		subjectID, errJWT := security.ParseSubjectToken(secret, token)
		if errJWT != nil {
			if errors.Is(errJWT, security.ErrExpiredToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(handlers.SubjectIDKey, subjectID)
		c.Next()
	}
}

// AdminMiddleware requires an admin bearer JWT when a secret is configured.
// Without a secret the admin routes are left open for local deployments.
func AdminMiddleware(auth config.AuthConfig) gin.HandlerFunc {
	secret := strings.TrimSpace(auth.JWTSecret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token, ok := security.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing admin token"})
			return
		}
		if _, errJWT := security.ParseAdminToken(secret, token); errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}
