package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultOracleSpec         = "@every 10m"
	defaultCacheSpec          = "@every 30m"
)

// SessionCleaner removes expired and revoked login sessions.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// AuditCleaner enforces audit log retention.
type AuditCleaner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// OraclePruner disposes permission oracles of sessions that went quiet.
type OraclePruner interface {
	PruneIdle(maxIdle time.Duration) int
}

// CachePurger drops expired entries from the database cache fallback.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired sessions,
// pruning stale audit logs, disposing idle session oracles and expiring
// database cache entries.
type Cleaner struct {
	sessions SessionCleaner
	audit    AuditCleaner
	oracles  OraclePruner
	cache    CachePurger

	cron      *cron.Cron
	log       *zap.Logger
	retention int
	idleTTL   time.Duration

	sessionSchedule string
	auditSchedule   string
	oracleSchedule  string
	cacheSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithOraclePruning disposes oracles idle longer than idleTTL.
func WithOraclePruning(pruner OraclePruner, idleTTL time.Duration) Option {
	return func(cleaner *Cleaner) {
		cleaner.oracles = pruner
		cleaner.idleTTL = idleTTL
	}
}

// WithCachePurge expires database cache entries.
func WithCachePurge(purger CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
	}
}

// WithSchedules overrides the cron specifications. Empty values keep the default.
func WithSchedules(session, audit, oracle, cache string) Option {
	return func(cleaner *Cleaner) {
		if session != "" {
			cleaner.sessionSchedule = session
		}
		if audit != "" {
			cleaner.auditSchedule = audit
		}
		if oracle != "" {
			cleaner.oracleSchedule = oracle
		}
		if cache != "" {
			cleaner.cacheSchedule = cache
		}
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the
// corresponding job being skipped.
func NewCleaner(sessions SessionCleaner, audit AuditCleaner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		audit:           audit,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		auditSchedule:   defaultAuditSpec,
		oracleSchedule:  defaultOracleSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.sessions != nil {
		jobs = append(jobs, job{"sessions", c.sessionSchedule, func(ctx context.Context) error {
			n, err := c.sessions.CleanupExpired(ctx)
			c.report("sessions", n, err)
			return err
		}})
	}
	if c.audit != nil && c.retention > 0 {
		jobs = append(jobs, job{"audit", c.auditSchedule, func(ctx context.Context) error {
			n, err := c.audit.CleanupOlderThan(ctx, c.retention)
			c.report("audit", n, err)
			return err
		}})
	}
	if c.oracles != nil && c.idleTTL > 0 {
		jobs = append(jobs, job{"oracles", c.oracleSchedule, func(context.Context) error {
			c.report("oracles", int64(c.oracles.PruneIdle(c.idleTTL)), nil)
			return nil
		}})
	}
	if c.cache != nil {
		jobs = append(jobs, job{"cache", c.cacheSchedule, func(ctx context.Context) error {
			n, err := c.cache.PurgeExpired(ctx)
			c.report("cache", n, err)
			return err
		}})
	}
	return jobs
}

func (c *Cleaner) report(name string, removed int64, err error) {
	if err != nil {
		c.log.Warn("cleanup failed", zap.String("job", name), zap.Error(err))
		return
	}
	if removed > 0 {
		c.log.Info("cleanup completed", zap.String("job", name), zap.Int64("removed", removed))
	}
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		run := j.run
		if _, err := c.cron.AddFunc(j.schedule, func() { _ = run(context.Background()) }); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once
// running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, j.run(ctx))
	}
	return errs
}
