package quota

import (
	"fmt"

	"github.com/router-for-me/tokenquota/internal/config"
	log "github.com/sirupsen/logrus"
)

// Opener opens the store behind the configured backend.
type Opener func(storage config.StorageConfig) (Store, error)

// NewLimiters builds one limiter per definition, in configuration order, over a single shared store.
// It returns no limiters when storage or limiter definitions are missing, which means unlimited usage.
func NewLimiters(cfg config.QuotaHandlersConfig, open Opener) ([]Limiter, error) {
	if !cfg.StorageConfigured() {
		log.Warn("quota: no storage configured, quota limits are disabled")
		return nil, nil
	}
	if len(cfg.Limiters) == 0 {
		log.Info("quota: no limiters configured")
		return nil, nil
	}
	for i, def := range cfg.Limiters {
		if _, errType := SubjectTypeForLimiter(def.Type); errType != nil {
			return nil, fmt.Errorf("quota: limiter %d (%s): %w", i, def.Name, errType)
		}
	}
	if open == nil {
		open = OpenGormStore
	}
	store, errOpen := open(cfg.Storage())
	if errOpen != nil {
		return nil, fmt.Errorf("quota: open store: %w", errOpen)
	}

	limiters := make([]Limiter, 0, len(cfg.Limiters))
	for i, def := range cfg.Limiters {
		limiter, errLimiter := newLimiter(limiterName(def, i), def, store)
		if errLimiter != nil {
			return nil, errLimiter
		}
		log.Infof("quota: set up limiter %s", limiter)
		limiters = append(limiters, limiter)
	}
	return limiters, nil
}

func newLimiter(name string, def config.LimiterConfig, store Store) (Limiter, error) {
	switch def.Type {
	case config.UserLimiterType:
		return NewUserLimiter(name, def.InitialQuota, def.IncreaseBy(), store)
	case config.ClusterLimiterType:
		return NewClusterLimiter(name, def.InitialQuota, def.IncreaseBy(), store)
	default:
		return nil, fmt.Errorf("quota: invalid limiter type %q", def.Type)
	}
}

func limiterName(def config.LimiterConfig, index int) string {
	if def.Name != "" {
		return def.Name
	}
	return fmt.Sprintf("%s_%d", def.Type, index)
}
