package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/api"
	"github.com/charlesng35/casedesk/internal/app"
	"github.com/charlesng35/casedesk/internal/app/maintenance"
	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/database"
	"github.com/charlesng35/casedesk/internal/services"
	"github.com/charlesng35/casedesk/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	DBStore  *cache.DatabaseStore
	Redis    *cache.RedisStore
	Sessions *iauth.SessionService
	Audit    *services.AuditService
	Server   *api.Server
	Cleaner  *maintenance.Cleaner
}

// Store returns the shared cache: Redis when connected, otherwise the database store.
func (s *runtimeStack) Store() cache.Store {
	if s.Redis != nil {
		return s.Redis
	}
	if s.DBStore != nil {
		return s.DBStore
	}
	return nil
}

// bootstrapRuntime opens the database, connects the cache, builds the API
// server and starts the maintenance jobs.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stack.DBStore = cache.NewDatabaseStore(stack.DB)

	if redisCfg, enabled := cfg.Cache.SharedRedis(); enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, redisCfg); err != nil {
			log.Warn("redis unavailable; falling back to the database cache", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", redisCfg.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionCache(stack.Store())
	stack.Sessions, err = iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Audit, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	stack.Server, err = api.NewServer(api.Dependencies{
		DB:       stack.DB,
		Config:   cfg,
		JWT:      jwtSvc,
		Sessions: stack.Sessions,
		Audit:    stack.Audit,
		Cache:    stack.Store(),
	})
	if err != nil {
		return nil, fmt.Errorf("build api server: %w", err)
	}

	m := cfg.Maintenance
	stack.Cleaner = maintenance.NewCleaner(stack.Sessions, stack.Audit,
		maintenance.WithAuditRetentionDays(m.AuditRetentionDays),
		maintenance.WithOraclePruning(stack.Server.Registry, cfg.Permissions.IdleSessionTTL),
		maintenance.WithCachePurge(stack.DBStore),
		maintenance.WithSchedules(m.SessionSchedule, m.AuditSchedule, m.OracleSchedule, m.CacheSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	s.Server.Close()

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(ctx context.Context, cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(ctx, db, cfg.Bootstrap.SeedOptions()); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
