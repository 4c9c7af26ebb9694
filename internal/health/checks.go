package health

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Database pings the SQL connection pool.
func Database(db *gorm.DB) Check {
	return Check{Name: "database", Run: func(ctx context.Context) Result {
		if db == nil {
			return Result{Status: StatusDown, Details: "database not configured"}
		}
		sqlDB, err := db.DB()
		if err != nil {
			return FromError(err)
		}
		return FromError(sqlDB.PingContext(ctx))
	}}
}

// Pinger is implemented by cache backends that hold a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache probes the shared cache. Stores without a connection, such as the
// database fallback, report up.
func Cache(store any) Check {
	return Check{Name: "cache", Run: func(ctx context.Context) Result {
		switch s := store.(type) {
		case nil:
			return Result{Status: StatusUp, Details: "cache disabled"}
		case Pinger:
			r := FromError(s.Ping(ctx))
			if r.Status == StatusDown {
				// Sessions and rate limits fail open without the cache.
				r.Status = StatusDegraded
			}
			return r
		default:
			return Result{Status: StatusUp, Details: fmt.Sprintf("%T", store)}
		}
	}}
}

// SessionCounter reports live permission oracles.
type SessionCounter interface {
	Len() int
}

// Oracles reports the number of live session oracles.
func Oracles(sessions SessionCounter) Check {
	return Check{Name: "oracles", Run: func(context.Context) Result {
		if sessions == nil {
			return Result{Status: StatusDegraded, Details: "session registry unavailable"}
		}
		return Result{Status: StatusUp, Details: fmt.Sprintf("%d active", sessions.Len())}
	}}
}
