package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/tokenquota/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenUsageHistory accumulates consumed tokens per user, provider and model.
type TokenUsageHistory struct {
	db *gorm.DB
}

// NewTokenUsageHistory constructs a history recorder backed by GORM.
func NewTokenUsageHistory(db *gorm.DB) (*TokenUsageHistory, error) {
	if db == nil {
		return nil, errors.New("usage history: nil db")
	}
	return &TokenUsageHistory{db: db}, nil
}

// Record adds the token counts to the (user, provider, model) counters, creating the row on first use.
func (h *TokenUsageHistory) Record(ctx context.Context, userID, provider, model string, inputTokens, outputTokens int64) error {
	if h == nil || h.db == nil {
		return nil
	}
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("usage history: negative token count (input=%d output=%d)", inputTokens, outputTokens)
	}
	row := models.TokenUsage{
		UserID:       strings.TrimSpace(userID),
		Provider:     strings.TrimSpace(provider),
		Model:        strings.TrimSpace(model),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		UpdatedAt:    time.Now().UTC(),
	}
	errCreate := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "model"}},
		DoUpdates: clause.Assignments(map[string]any{
			"input_tokens":  gorm.Expr("token_usage.input_tokens + ?", inputTokens),
			"output_tokens": gorm.Expr("token_usage.output_tokens + ?", outputTokens),
			"updated_at":    row.UpdatedAt,
		}),
	}).Create(&row).Error
	if errCreate != nil {
		return fmt.Errorf("usage history: record: %w", errCreate)
	}
	return nil
}

// ForUser returns the counters recorded for userID ordered by provider and model.
func (h *TokenUsageHistory) ForUser(ctx context.Context, userID string) ([]models.TokenUsage, error) {
	var rows []models.TokenUsage
	if errFind := h.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("provider ASC").
		Order("model ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage history: list: %w", errFind)
	}
	return rows, nil
}
