package models

import "time"

// Subject type tags stored in QuotaLimit.Subject.
const (
	// SubjectUser marks per-user rows.
	SubjectUser = "u"
	// SubjectCluster marks the deployment-wide row.
	SubjectCluster = "c"
)

// QuotaLimit tracks the remaining allowance of one subject.
type QuotaLimit struct {
	ID      string `gorm:"column:id;type:text;primaryKey;not null"`         // User ID, or empty for the cluster row.
	Subject string `gorm:"column:subject;type:char(1);primaryKey;not null"` // Subject type tag.

	QuotaLimit int64  `gorm:"column:quota_limit;type:integer;not null"` // Configured ceiling.
	Available  *int64 `gorm:"column:available;type:integer"`            // Remaining allowance; may go negative.

	UpdatedAt *time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime:false"` // Last consumption or increase.
	RevokedAt *time.Time `gorm:"column:revoked_at;type:timestamp"`                      // Last reset or windowed replenishment.
}

// TableName overrides the default table name.
func (QuotaLimit) TableName() string {
	return "quota_limits"
}
