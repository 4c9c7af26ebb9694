package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/logger"
)

// VersionKey holds the global permissions version. Bumping it orphans every
// cached permission set.
const VersionKey = "permissions:version"

const defaultCacheTTL = 5 * time.Minute

// Checker is the server-side source of truth for permission decisions. Effective
// sets are read from the database and optionally cached in a shared Store.
type Checker struct {
	db    *gorm.DB
	cache cache.Store
	ttl   time.Duration
	log   *zap.Logger
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithCache enables the shared cache for effective permission sets.
func WithCache(store cache.Store, ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		c.cache = store
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewChecker constructs a permission checker backed by the provided database.
func NewChecker(db *gorm.DB, opts ...CheckerOption) (*Checker, error) {
	if db == nil {
		return nil, errors.New("permission checker: db is required")
	}
	c := &Checker{db: db, ttl: defaultCacheTTL, log: logger.WithModule("permissions")}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type grantSet struct {
	Found  bool     `json:"found"`
	Active bool     `json:"active"`
	Admin  bool     `json:"admin"`
	Names  []string `json:"names"`
}

func (g *grantSet) has(name string) bool {
	idx := sort.SearchStrings(g.Names, name)
	return idx < len(g.Names) && g.Names[idx] == name
}

// Check reports whether the user holds the permission. Inactive or missing users
// are denied; the Administrator role is granted everything; names outside the
// active catalog are denied with ErrUnknownPermission.
func (c *Checker) Check(ctx context.Context, userID, name string) (bool, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("permission checker: user id is required")
	}
	parsed, err := ParseName(name)
	if err != nil {
		return false, err
	}
	name = parsed.String()

	grants, err := c.loadGrants(ctx, userID)
	if err != nil {
		return false, err
	}
	if !grants.Found || !grants.Active {
		return false, nil
	}
	if grants.Admin {
		return true, nil
	}

	catalog, err := c.activeCatalog(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := catalog[name]; !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownPermission, name)
	}

	return grants.has(name), nil
}

// CheckModule evaluates a module declaration: an OR over its permission list.
// An empty list is always accessible; an undeclared module is not.
func (c *Checker) CheckModule(ctx context.Context, userID, module string) (bool, error) {
	perms, ok := ModulePermissions(module)
	if !ok {
		return false, nil
	}
	if len(perms) == 0 {
		return true, nil
	}

	for _, perm := range perms {
		allowed, err := c.Check(ctx, userID, perm)
		if err != nil {
			if errors.Is(err, ErrUnknownPermission) {
				continue
			}
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// GetUserPermissions returns the sorted effective permission names of the user.
// Administrators receive the whole active catalog.
func (c *Checker) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("permission checker: user id is required")
	}

	grants, err := c.loadGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !grants.Found || !grants.Active {
		return []string{}, nil
	}
	if !grants.Admin {
		return append([]string{}, grants.Names...), nil
	}

	catalog, err := c.activeCatalog(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate bumps the global permissions version so cached sets are ignored.
func (c *Checker) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	if _, err := c.cache.Increment(ensureContext(ctx), VersionKey); err != nil {
		return fmt.Errorf("permission checker: bump version: %w", err)
	}
	return nil
}

// Holder binds the checker to one user for scope resolution.
func (c *Checker) Holder(userID string) Holder {
	return userHolder{checker: c, userID: userID}
}

type userHolder struct {
	checker *Checker
	userID  string
}

func (h userHolder) HasPermissionAsync(ctx context.Context, name string) bool {
	ok, err := h.checker.Check(ctx, h.userID, name)
	return err == nil && ok
}

func (c *Checker) loadGrants(ctx context.Context, userID string) (*grantSet, error) {
	key, cacheable := c.cacheKey(ctx, "user:"+userID)
	if cacheable {
		var cached grantSet
		if c.readCache(ctx, key, &cached) {
			return &cached, nil
		}
	}

	var user models.User
	err := c.db.WithContext(ctx).
		Preload("Role").
		Preload("Role.Permissions", "is_active = ?", true).
		First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &grantSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission checker: load user: %w", err)
	}

	grants := &grantSet{
		Found:  true,
		Active: user.IsActive,
		Admin:  user.IsAdministrator(),
		Names:  user.Role.PermissionNames(),
	}
	sort.Strings(grants.Names)

	if cacheable {
		c.writeCache(ctx, key, grants)
	}
	return grants, nil
}

func (c *Checker) activeCatalog(ctx context.Context) (map[string]struct{}, error) {
	var names []string

	key, cacheable := c.cacheKey(ctx, "catalog")
	if !cacheable || !c.readCache(ctx, key, &names) {
		if err := c.db.WithContext(ctx).
			Model(&models.Permission{}).
			Where("is_active = ?", true).
			Pluck("name", &names).Error; err != nil {
			return nil, fmt.Errorf("permission checker: load catalog: %w", err)
		}
		if cacheable {
			c.writeCache(ctx, key, names)
		}
	}

	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

// cacheKey returns a key namespaced by the current permissions version. Caching is
// skipped entirely when the version cannot be read.
func (c *Checker) cacheKey(ctx context.Context, suffix string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	raw, ok, err := c.cache.Get(ctx, VersionKey)
	if err != nil {
		c.log.Warn("permission cache unavailable", zap.Error(err))
		return "", false
	}
	version := "0"
	if ok && len(raw) > 0 {
		version = string(raw)
	}
	return "permissions:v" + version + ":" + suffix, true
}

func (c *Checker) readCache(ctx context.Context, key string, dest interface{}) bool {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("permission cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Debug("discarding corrupt permission cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Checker) writeCache(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
		c.log.Warn("permission cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
