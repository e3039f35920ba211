package quota

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Limiter gates admission for one configured quota and tracks its consumption.
type Limiter interface {
	Name() string
	SubjectType() SubjectType
	// AvailableQuota returns the remaining allowance, creating the row on first sight.
	AvailableQuota(ctx context.Context, subjectID string) (int64, error)
	// EnsureAvailableQuota returns a *QuotaExceededError when nothing is left.
	EnsureAvailableQuota(ctx context.Context, subjectID string) error
	// ConsumeTokens debits inputTokens+outputTokens. The allowance may go negative.
	ConsumeTokens(ctx context.Context, inputTokens, outputTokens int64, subjectID string) error
	// IncreaseQuota adds the configured increase.
	IncreaseQuota(ctx context.Context, subjectID string) error
	// RevokeQuota resets the allowance to the initial quota.
	RevokeQuota(ctx context.Context, subjectID string) error
}

// RevokableLimiter holds the behaviour shared by user and cluster limiters.
type RevokableLimiter struct {
	name         string
	initialQuota int64
	increaseBy   int64
	subject      SubjectType
	store        Store
}

var _ Limiter = (*RevokableLimiter)(nil)

// NewRevokableLimiter builds a limiter over store for the given subject type.
func NewRevokableLimiter(name string, initialQuota, increaseBy int64, subject SubjectType, store Store) (*RevokableLimiter, error) {
	if store == nil {
		return nil, errors.New("quota limiter: nil store")
	}
	if !subject.Valid() {
		return nil, fmt.Errorf("quota limiter: invalid subject type %q", subject)
	}
	return &RevokableLimiter{
		name:         name,
		initialQuota: initialQuota,
		increaseBy:   increaseBy,
		subject:      subject,
		store:        store,
	}, nil
}

func (l *RevokableLimiter) Name() string { return l.name }

func (l *RevokableLimiter) SubjectType() SubjectType { return l.subject }

// InitialQuota returns the quota assigned on first sight and on revoke.
func (l *RevokableLimiter) InitialQuota() int64 { return l.initialQuota }

// IncreaseBy returns the amount IncreaseQuota adds.
func (l *RevokableLimiter) IncreaseBy() int64 { return l.increaseBy }

func (l *RevokableLimiter) String() string {
	return fmt.Sprintf("%s: initial quota: %d quota increase: %d", l.name, l.initialQuota, l.increaseBy)
}

func (l *RevokableLimiter) AvailableQuota(ctx context.Context, subjectID string) (int64, error) {
	available, found, err := l.store.Available(ctx, subjectID, l.subject)
	if err != nil {
		return 0, fmt.Errorf("quota limiter %s: %w", l.name, err)
	}
	if found {
		return available, nil
	}
	if errInit := l.initRow(ctx, subjectID); errInit != nil {
		return 0, errInit
	}
	return l.initialQuota, nil
}

func (l *RevokableLimiter) EnsureAvailableQuota(ctx context.Context, subjectID string) error {
	available, err := l.AvailableQuota(ctx, subjectID)
	if err != nil {
		return err
	}
	if available <= 0 {
		rejectionsTotal.WithLabelValues(l.name, string(l.subject)).Inc()
		return &QuotaExceededError{SubjectID: subjectID, SubjectType: l.subject, Available: available}
	}
	return nil
}

func (l *RevokableLimiter) ConsumeTokens(ctx context.Context, inputTokens, outputTokens int64, subjectID string) error {
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("quota limiter %s: negative token count (input=%d output=%d)", l.name, inputTokens, outputTokens)
	}
	toBeConsumed := inputTokens + outputTokens
	if errAdd := l.addAvailable(ctx, subjectID, -toBeConsumed); errAdd != nil {
		return errAdd
	}
	consumedTokensTotal.WithLabelValues(l.name).Add(float64(toBeConsumed))
	return nil
}

func (l *RevokableLimiter) IncreaseQuota(ctx context.Context, subjectID string) error {
	return l.addAvailable(ctx, subjectID, l.increaseBy)
}

func (l *RevokableLimiter) RevokeQuota(ctx context.Context, subjectID string) error {
	rows, err := l.store.SetAvailable(ctx, subjectID, l.subject, l.initialQuota)
	if err != nil {
		return fmt.Errorf("quota limiter %s: %w", l.name, err)
	}
	if rows == 0 {
		return l.initRow(ctx, subjectID)
	}
	return nil
}

// addAvailable applies delta, creating the row first when it does not exist yet.
func (l *RevokableLimiter) addAvailable(ctx context.Context, subjectID string, delta int64) error {
	rows, err := l.store.AddAvailable(ctx, subjectID, l.subject, delta)
	if err != nil {
		return fmt.Errorf("quota limiter %s: %w", l.name, err)
	}
	if rows > 0 {
		return nil
	}
	if errInit := l.initRow(ctx, subjectID); errInit != nil {
		return errInit
	}
	if _, err = l.store.AddAvailable(ctx, subjectID, l.subject, delta); err != nil {
		return fmt.Errorf("quota limiter %s: %w", l.name, err)
	}
	return nil
}

func (l *RevokableLimiter) initRow(ctx context.Context, subjectID string) error {
	if errInit := l.store.Init(ctx, subjectID, l.subject, l.initialQuota, l.initialQuota); errInit != nil {
		return fmt.Errorf("quota limiter %s: %w", l.name, errInit)
	}
	log.Debugf("quota limiter %s: initialized %s row %q with %d tokens", l.name, l.subject, subjectID, l.initialQuota)
	return nil
}

// UserLimiter tracks one allowance per user id.
type UserLimiter struct {
	*RevokableLimiter
}

// NewUserLimiter builds a per-user limiter.
func NewUserLimiter(name string, initialQuota, increaseBy int64, store Store) (*UserLimiter, error) {
	base, err := NewRevokableLimiter(name, initialQuota, increaseBy, SubjectUser, store)
	if err != nil {
		return nil, err
	}
	return &UserLimiter{RevokableLimiter: base}, nil
}

// ClusterLimiter tracks a single allowance shared by every caller. The subject id is ignored.
type ClusterLimiter struct {
	*RevokableLimiter
}

// NewClusterLimiter builds the deployment-wide limiter.
func NewClusterLimiter(name string, initialQuota, increaseBy int64, store Store) (*ClusterLimiter, error) {
	base, err := NewRevokableLimiter(name, initialQuota, increaseBy, SubjectCluster, store)
	if err != nil {
		return nil, err
	}
	return &ClusterLimiter{RevokableLimiter: base}, nil
}

func (l *ClusterLimiter) AvailableQuota(ctx context.Context, _ string) (int64, error) {
	return l.RevokableLimiter.AvailableQuota(ctx, "")
}

func (l *ClusterLimiter) EnsureAvailableQuota(ctx context.Context, _ string) error {
	return l.RevokableLimiter.EnsureAvailableQuota(ctx, "")
}

func (l *ClusterLimiter) ConsumeTokens(ctx context.Context, inputTokens, outputTokens int64, _ string) error {
	return l.RevokableLimiter.ConsumeTokens(ctx, inputTokens, outputTokens, "")
}

func (l *ClusterLimiter) IncreaseQuota(ctx context.Context, _ string) error {
	return l.RevokableLimiter.IncreaseQuota(ctx, "")
}

func (l *ClusterLimiter) RevokeQuota(ctx context.Context, _ string) error {
	return l.RevokableLimiter.RevokeQuota(ctx, "")
}
