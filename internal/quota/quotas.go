package quota

import "context"

// AvailableQuotas maps each limiter name to the subject's remaining allowance.
func AvailableQuotas(ctx context.Context, limiters []Limiter, subjectID string) (map[string]int64, error) {
	available := make(map[string]int64, len(limiters))
	for _, limiter := range limiters {
		n, err := limiter.AvailableQuota(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		available[limiter.Name()] = n
	}
	return available, nil
}

// EnsureAvailable checks every limiter in order and returns the first failure.
// An empty list always admits.
func EnsureAvailable(ctx context.Context, limiters []Limiter, subjectID string) error {
	for _, limiter := range limiters {
		if err := limiter.EnsureAvailableQuota(ctx, subjectID); err != nil {
			return err
		}
	}
	return nil
}

// ConsumeTokens debits the token counts from every limiter in order and stops at the
// first failure. Each debit commits on its own, so limiters before the failing one
// stay debited.
func ConsumeTokens(ctx context.Context, limiters []Limiter, subjectID string, inputTokens, outputTokens int64) error {
	for _, limiter := range limiters {
		if err := limiter.ConsumeTokens(ctx, inputTokens, outputTokens, subjectID); err != nil {
			return err
		}
	}
	return nil
}
