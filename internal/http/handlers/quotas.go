package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/quota"
	log "github.com/sirupsen/logrus"
)

// QuotaHandler serves the caller's quota views.
type QuotaHandler struct {
	limiters []quota.Limiter
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(limiters []quota.Limiter) *QuotaHandler {
	return &QuotaHandler{limiters: limiters}
}

// Available returns the remaining allowance per limiter for the caller.
func (h *QuotaHandler) Available(c *gin.Context) {
	subjectID := SubjectID(c)
	available, err := quota.AvailableQuotas(c.Request.Context(), h.limiters, subjectID)
	if err != nil {
		log.WithError(err).Error("quota handler: read available quotas failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   subjectID,
		"limited":   len(h.limiters) > 0,
		"available": available,
	})
}

// Admit answers 204 once the quota middleware has admitted the caller.
func (h *QuotaHandler) Admit(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// AdminQuotaHandler lists every stored quota row.
type AdminQuotaHandler struct {
	store quota.Store
}

// NewAdminQuotaHandler constructs an AdminQuotaHandler. A nil store lists nothing.
func NewAdminQuotaHandler(store quota.Store) *AdminQuotaHandler {
	return &AdminQuotaHandler{store: store}
}

// quotaRow is the admin view of one quota record.
type quotaRow struct {
	ID         string     `json:"id"`
	Subject    string     `json:"subject"`
	QuotaLimit int64      `json:"quota_limit"`
	Available  int64      `json:"available"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// List returns quota records ordered by subject and id.
func (h *AdminQuotaHandler) List(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"quotas": []quotaRow{}})
		return
	}
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("admin quota handler: list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota storage error"})
		return
	}
	out := make([]quotaRow, 0, len(records))
	for _, record := range records {
		row := quotaRow{
			ID:         record.ID,
			Subject:    record.Subject,
			QuotaLimit: record.QuotaLimit,
			UpdatedAt:  record.UpdatedAt,
			RevokedAt:  record.RevokedAt,
		}
		if record.Available != nil {
			row.Available = *record.Available
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"quotas": out})
}
