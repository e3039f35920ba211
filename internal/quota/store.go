package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/tokenquota/internal/config"
	dbutil "github.com/router-for-me/tokenquota/internal/db"
	"github.com/router-for-me/tokenquota/internal/models"
	"gorm.io/gorm"
)

// SubjectType distinguishes per-user rows from the cluster-wide row.
type SubjectType string

const (
	// SubjectUser tags per-user quota rows.
	SubjectUser SubjectType = models.SubjectUser
	// SubjectCluster tags the single cluster-wide quota row.
	SubjectCluster SubjectType = models.SubjectCluster
)

// Valid reports whether s is a known subject type.
func (s SubjectType) Valid() bool {
	return s == SubjectUser || s == SubjectCluster
}

// SubjectTypeForLimiter maps a configured limiter type to its subject tag.
func SubjectTypeForLimiter(limiterType string) (SubjectType, error) {
	switch limiterType {
	case config.UserLimiterType:
		return SubjectUser, nil
	case config.ClusterLimiterType:
		return SubjectCluster, nil
	default:
		return "", fmt.Errorf("quota: invalid limiter type %q", limiterType)
	}
}

// Store persists quota rows. Every method issues a single autocommitted statement.
type Store interface {
	// Available returns the remaining allowance; found is false when no row exists.
	Available(ctx context.Context, subjectID string, subject SubjectType) (available int64, found bool, err error)
	// Init creates the row unless it already exists.
	Init(ctx context.Context, subjectID string, subject SubjectType, quotaLimit, available int64) error
	// SetAvailable overwrites the allowance and stamps revoked_at.
	SetAvailable(ctx context.Context, subjectID string, subject SubjectType, available int64) (int64, error)
	// AddAvailable adds delta to the allowance and stamps updated_at.
	AddAvailable(ctx context.Context, subjectID string, subject SubjectType, delta int64) (int64, error)
	// IncreaseExpired adds increaseBy to every row of subject whose revoked_at is older than period.
	IncreaseExpired(ctx context.Context, subject SubjectType, increaseBy int64, period string) (int64, error)
	// ResetExpired sets available to quota on every row of subject whose revoked_at is older than period.
	ResetExpired(ctx context.Context, subject SubjectType, quota int64, period string) (int64, error)
	// Get returns one row, or nil when absent.
	Get(ctx context.Context, subjectID string, subject SubjectType) (*models.QuotaLimit, error)
	// List returns every row ordered by subject and id.
	List(ctx context.Context) ([]models.QuotaLimit, error)
	// Close releases the underlying connection pool.
	Close() error
}

const (
	selectAvailableStatement = `SELECT available FROM quota_limits WHERE id = ? AND subject = ? LIMIT 1`
	initQuotaStatement       = `INSERT INTO quota_limits (id, subject, quota_limit, available, revoked_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id, subject) DO NOTHING`
	setAvailableStatement = `UPDATE quota_limits
		SET available = ?, revoked_at = CURRENT_TIMESTAMP
		WHERE id = ? AND subject = ?`
	addAvailableStatement = `UPDATE quota_limits
		SET available = available + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND subject = ?`
	increaseExpiredTemplate = `UPDATE quota_limits
		SET available = available + ?, revoked_at = CURRENT_TIMESTAMP
		WHERE subject = ? AND revoked_at < %s`
	resetExpiredTemplate = `UPDATE quota_limits
		SET available = ?, revoked_at = CURRENT_TIMESTAMP
		WHERE subject = ? AND revoked_at < %s`
)

// GormStore implements Store on top of a gorm connection to sqlite or postgres.
type GormStore struct {
	db      *gorm.DB
	dialect dbutil.Dialect

	increaseExpiredStatement string
	resetExpiredStatement    string
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open connection. The connection's dialect selects the interval syntax.
func NewGormStore(conn *gorm.DB) (*GormStore, error) {
	if conn == nil {
		return nil, errors.New("quota store: nil db")
	}
	dialect, err := dbutil.DialectOf(conn)
	if err != nil {
		return nil, fmt.Errorf("quota store: %w", err)
	}
	return &GormStore{
		db:                       conn,
		dialect:                  dialect,
		increaseExpiredStatement: fmt.Sprintf(increaseExpiredTemplate, dialect.CutoffExpr()),
		resetExpiredStatement:    fmt.Sprintf(resetExpiredTemplate, dialect.CutoffExpr()),
	}, nil
}

// OpenGormStore opens the configured backend, migrates the schema and returns the store.
func OpenGormStore(storage config.StorageConfig) (Store, error) {
	conn, err := dbutil.Open(storage)
	if err != nil {
		return nil, err
	}
	store, err := NewGormStore(conn)
	if err != nil {
		_ = dbutil.Close(conn)
		return nil, err
	}
	if errSchema := store.EnsureSchema(context.Background()); errSchema != nil {
		_ = dbutil.Close(conn)
		return nil, errSchema
	}
	return store, nil
}

// DB exposes the underlying connection for collaborators sharing the pool.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Dialect returns the active dialect name.
func (s *GormStore) Dialect() string { return s.dialect.Name() }

// EnsureSchema creates the quota tables when missing.
func (s *GormStore) EnsureSchema(ctx context.Context) error {
	return dbutil.Migrate(s.db.WithContext(ctx))
}

func (s *GormStore) Available(ctx context.Context, subjectID string, subject SubjectType) (int64, bool, error) {
	var rows []struct {
		Available *int64
	}
	if errScan := s.db.WithContext(ctx).Raw(selectAvailableStatement, subjectID, string(subject)).Scan(&rows).Error; errScan != nil {
		return 0, false, fmt.Errorf("quota store: select available: %w", errScan)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	if rows[0].Available == nil {
		return 0, true, nil
	}
	return *rows[0].Available, true, nil
}

func (s *GormStore) Init(ctx context.Context, subjectID string, subject SubjectType, quotaLimit, available int64) error {
	if errExec := s.db.WithContext(ctx).Exec(initQuotaStatement, subjectID, string(subject), quotaLimit, available).Error; errExec != nil {
		return fmt.Errorf("quota store: init quota: %w", errExec)
	}
	return nil
}

func (s *GormStore) SetAvailable(ctx context.Context, subjectID string, subject SubjectType, available int64) (int64, error) {
	res := s.db.WithContext(ctx).Exec(setAvailableStatement, available, subjectID, string(subject))
	if res.Error != nil {
		return 0, fmt.Errorf("quota store: set available: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) AddAvailable(ctx context.Context, subjectID string, subject SubjectType, delta int64) (int64, error) {
	res := s.db.WithContext(ctx).Exec(addAvailableStatement, delta, subjectID, string(subject))
	if res.Error != nil {
		return 0, fmt.Errorf("quota store: update available: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) IncreaseExpired(ctx context.Context, subject SubjectType, increaseBy int64, period string) (int64, error) {
	res := s.db.WithContext(ctx).Exec(s.increaseExpiredStatement, increaseBy, string(subject), s.dialect.PeriodArg(period))
	if res.Error != nil {
		return 0, fmt.Errorf("quota store: increase expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) ResetExpired(ctx context.Context, subject SubjectType, quota int64, period string) (int64, error) {
	res := s.db.WithContext(ctx).Exec(s.resetExpiredStatement, quota, string(subject), s.dialect.PeriodArg(period))
	if res.Error != nil {
		return 0, fmt.Errorf("quota store: reset expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Get(ctx context.Context, subjectID string, subject SubjectType) (*models.QuotaLimit, error) {
	var rows []models.QuotaLimit
	if errFind := s.db.WithContext(ctx).
		Where("id = ? AND subject = ?", subjectID, string(subject)).
		Limit(1).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("quota store: get: %w", errFind)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *GormStore) List(ctx context.Context) ([]models.QuotaLimit, error) {
	var rows []models.QuotaLimit
	if errFind := s.db.WithContext(ctx).
		Order("subject ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("quota store: list: %w", errFind)
	}
	return rows, nil
}

func (s *GormStore) Close() error {
	return dbutil.Close(s.db)
}
