package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/router-for-me/tokenquota/internal/config"
	"github.com/router-for-me/tokenquota/internal/db"
	quotahttp "github.com/router-for-me/tokenquota/internal/http"
	"github.com/router-for-me/tokenquota/internal/logging"
	"github.com/router-for-me/tokenquota/internal/quota"
	"github.com/router-for-me/tokenquota/internal/usage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Migrate opens the configured quota storage and creates its tables.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(conf.QuotaHandlers.Storage())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer loads the configuration file and serves until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, errLogging := logging.Setup(conf.Logging)
	if errLogging != nil {
		return errLogging
	}
	defer func() { _ = logCloser.Close() }()

	log.Infof("starting quota service with config=%s", configPath)
	return Run(ctx, conf)
}

// Run wires storage, limiters, the scheduler and the HTTP server, and blocks until ctx ends
// or the listener fails. The scheduler is stopped and storage released before returning.
func Run(ctx context.Context, conf config.Config) error {
	svc, err := newService(conf)
	if err != nil {
		return err
	}
	defer svc.close()

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	scheduler := quota.NewScheduler(conf.QuotaHandlers, nil)
	scheduler.Start(schedulerCtx)
	defer func() {
		stopScheduler()
		<-scheduler.Done()
	}()

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              conf.Server.Addr(),
		Handler:           quotahttp.NewRouter(svc.routerDeps(conf.Auth)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("quota service listening on %s", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	log.Info("quota service stopped")
	return nil
}

// service holds the collaborators shared by the HTTP routes.
type service struct {
	limiters []quota.Limiter
	store    *quota.GormStore
	history  *usage.TokenUsageHistory
}

func newService(conf config.Config) (*service, error) {
	svc := &service{}
	limiters, err := quota.NewLimiters(conf.QuotaHandlers, func(storage config.StorageConfig) (quota.Store, error) {
		opened, errOpen := quota.OpenGormStore(storage)
		if errOpen != nil {
			return nil, errOpen
		}
		svc.store, _ = opened.(*quota.GormStore)
		return opened, nil
	})
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.limiters = limiters

	if conf.QuotaHandlers.EnableTokenHistory && svc.store != nil {
		history, errHistory := usage.NewTokenUsageHistory(svc.store.DB())
		if errHistory != nil {
			svc.close()
			return nil, errHistory
		}
		svc.history = history
	}
	return svc, nil
}

func (s *service) routerDeps(auth config.AuthConfig) quotahttp.RouterDeps {
	deps := quotahttp.RouterDeps{
		Auth:     auth,
		Limiters: s.limiters,
		History:  s.history,
	}
	if s.store != nil {
		deps.Store = s.store
		deps.DB = s.store.DB()
	}
	return deps
}

func (s *service) close() {
	if s == nil || s.store == nil {
		return
	}
	if errClose := s.store.Close(); errClose != nil {
		log.WithError(errClose).Warn("app: close quota store failed")
	}
	s.store = nil
}
