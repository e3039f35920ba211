package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/quota"
	"github.com/router-for-me/tokenquota/internal/usage"
	log "github.com/sirupsen/logrus"
)

// UsageHandler records token consumption reported after a request completes.
type UsageHandler struct {
	limiters []quota.Limiter
	history  *usage.TokenUsageHistory
}

// NewUsageHandler constructs a UsageHandler. A nil history disables per-model counters.
func NewUsageHandler(limiters []quota.Limiter, history *usage.TokenUsageHistory) *UsageHandler {
	return &UsageHandler{limiters: limiters, history: history}
}

type consumeRequest struct {
	InputTokens  int64  `json:"input_tokens" binding:"min=0"`
	OutputTokens int64  `json:"output_tokens" binding:"min=0"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

// Consume debits the reported tokens from every limiter and returns the remaining allowances.
func (h *UsageHandler) Consume(c *gin.Context) {
	var body consumeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	subjectID := SubjectID(c)

	if err := quota.ConsumeTokens(ctx, h.limiters, subjectID, body.InputTokens, body.OutputTokens); err != nil {
		log.WithError(err).Errorf("usage handler: consume tokens failed (user=%s)", subjectID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota storage error"})
		return
	}
	if h.history != nil {
		if errRecord := h.history.Record(ctx, subjectID, body.Provider, body.Model, body.InputTokens, body.OutputTokens); errRecord != nil {
			log.WithError(errRecord).Warnf("usage handler: record token history failed (user=%s)", subjectID)
		}
	}

	available, err := quota.AvailableQuotas(ctx, h.limiters, subjectID)
	if err != nil {
		log.WithError(err).Error("usage handler: read available quotas failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   subjectID,
		"consumed":  body.InputTokens + body.OutputTokens,
		"available": available,
	})
}

// History returns the caller's per-provider and per-model counters.
func (h *UsageHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token history disabled"})
		return
	}
	rows, err := h.history.ForUser(c.Request.Context(), SubjectID(c))
	if err != nil {
		log.WithError(err).Error("usage handler: list token history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows})
}
