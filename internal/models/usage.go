package models

import "time"

// TokenUsage accumulates consumed tokens per user, provider and model.
type TokenUsage struct {
	UserID   string `gorm:"column:user_id;type:text;primaryKey;not null" json:"user_id"`   // Subject the tokens were charged to.
	Provider string `gorm:"column:provider;type:text;primaryKey;not null" json:"provider"` // Inference provider.
	Model    string `gorm:"column:model;type:text;primaryKey;not null" json:"model"`       // Model name.

	InputTokens  int64 `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`   // Input token counter.
	OutputTokens int64 `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"` // Output token counter.

	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"` // Last recorded consumption.
}

// TableName overrides the default table name.
func (TokenUsage) TableName() string {
	return "token_usage"
}
