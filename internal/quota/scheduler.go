package quota

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/tokenquota/internal/config"
	log "github.com/sirupsen/logrus"
)

// Scheduler periodically replenishes quota rows whose window has elapsed.
type Scheduler struct {
	cfg      config.QuotaHandlersConfig
	open     Opener
	interval time.Duration

	startOnce sync.Once
	done      chan struct{}
}

// NewScheduler constructs a replenishment scheduler. A nil opener selects OpenGormStore.
func NewScheduler(cfg config.QuotaHandlersConfig, open Opener) *Scheduler {
	if open == nil {
		open = OpenGormStore
	}
	period := cfg.Scheduler.Period
	if period <= 0 {
		period = 1
	}
	return &Scheduler{
		cfg:      cfg,
		open:     open,
		interval: time.Duration(period) * time.Second,
		done:     make(chan struct{}),
	}
}

// Start launches the replenishment loop in a background goroutine. Later calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// Done is closed once the loop has exited and released its store.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if !s.cfg.StorageConfigured() {
		log.Warn("quota scheduler: storage not configured, scheduler disabled")
		return
	}
	if len(s.cfg.Limiters) == 0 {
		log.Warn("quota scheduler: no limiters configured, scheduler disabled")
		return
	}

	store, errOpen := s.open(s.cfg.Storage())
	if errOpen != nil {
		log.WithError(errOpen).Error("quota scheduler: open store failed, quotas will not be replenished")
		return
	}
	defer func() {
		if errClose := store.Close(); errClose != nil {
			log.WithError(errClose).Warn("quota scheduler: close store failed")
		}
	}()

	log.Infof("quota scheduler started (interval=%s limiters=%d)", s.interval, len(s.cfg.Limiters))
	for {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx, store)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			log.Info("quota scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// tick runs one replenishment pass. A failing limiter is logged and skipped.
func (s *Scheduler) tick(ctx context.Context, store Store) {
	for i, def := range s.cfg.Limiters {
		if ctx.Err() != nil {
			return
		}
		name := limiterName(def, i)
		if errRevoke := revokeExpired(ctx, store, name, def); errRevoke != nil {
			schedulerFailuresTotal.WithLabelValues(name).Inc()
			log.WithError(errRevoke).Warnf("quota scheduler: limiter %s replenishment failed", name)
		}
	}
}

func revokeExpired(ctx context.Context, store Store, name string, def config.LimiterConfig) error {
	subject, errSubject := SubjectTypeForLimiter(def.Type)
	if errSubject != nil {
		return errSubject
	}

	if def.QuotaIncrease != nil {
		rows, errIncrease := store.IncreaseExpired(ctx, subject, *def.QuotaIncrease, def.Period)
		if errIncrease != nil {
			return errIncrease
		}
		replenishedRowsTotal.WithLabelValues(name, "increase").Add(float64(rows))
		if rows > 0 {
			log.Infof("quota scheduler: limiter %s increased %d %s rows by %d", name, rows, subject, *def.QuotaIncrease)
		}
	}

	if def.InitialQuota > 0 {
		rows, errReset := store.ResetExpired(ctx, subject, def.InitialQuota, def.Period)
		if errReset != nil {
			return errReset
		}
		replenishedRowsTotal.WithLabelValues(name, "reset").Add(float64(rows))
		if rows > 0 {
			log.Infof("quota scheduler: limiter %s reset %d %s rows to %d", name, rows, subject, def.InitialQuota)
		}
	}
	return nil
}
