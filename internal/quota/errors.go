package quota

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded matches every QuotaExceededError via errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaExceededError reports that a subject had no allowance left at admission time.
type QuotaExceededError struct {
	SubjectID   string
	SubjectType SubjectType
	Available   int64
}

func (e *QuotaExceededError) Error() string {
	if e == nil {
		return ""
	}
	if e.SubjectType == SubjectCluster {
		return fmt.Sprintf("cluster has no available tokens (available=%d)", e.Available)
	}
	return fmt.Sprintf("user %s has no available tokens (available=%d)", e.SubjectID, e.Available)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IsQuotaExceeded reports whether err is an admission rejection, returning it when so.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var exceeded *QuotaExceededError
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}
