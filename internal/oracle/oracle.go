package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/pkg/logger"
	"github.com/charlesng35/casedesk/pkg/metrics"
)

// ErrDisposed is returned by operations on an oracle after Dispose.
var ErrDisposed = errors.New("oracle: disposed")

const (
	// DefaultRefreshInterval is how long a cached answer stays fresh.
	DefaultRefreshInterval = 30 * time.Second
	defaultFetchTimeout    = 10 * time.Second
	defaultConcurrency     = 8

	modulePrefix = "module:"

	kindPermission = "permission"
	kindModule     = "module"

	// a superseded fetch is retried against the newer version this many times
	maxLoadAttempts = 3
)

// ModuleResolver returns a module's OR-list and whether the module is declared.
type ModuleResolver func(module string) ([]string, bool)

// Options configures an Oracle.
type Options struct {
	// RefreshInterval is both the staleness threshold and the poller period.
	RefreshInterval time.Duration
	// FetchTimeout bounds a single transport round-trip.
	FetchTimeout time.Duration
	// Concurrency bounds parallel fetches during a full refresh.
	Concurrency int
	// Modules resolves module declarations. Defaults to the built-in catalog.
	Modules ModuleResolver
	// Permissions and ModuleKeys are subscribed up front and populate the cache
	// before Ready closes. Both default to every module declaration.
	Permissions []string
	ModuleKeys  []string
	// OnAuthExpired fires when the transport reports ErrAuthExpired.
	OnAuthExpired func()
	Logger        *zap.Logger
	Clock         func() time.Time
}

type entry struct {
	value     bool
	fetchedAt time.Time
	version   uint64
}

type result struct {
	value   bool
	applied bool
}

// refreshRun is one full invalidate-and-refetch pass. Callers waiting on the
// same run share it.
type refreshRun struct {
	fetching bool
	done     chan struct{}
}

// Oracle answers "can this session do X" from a local cache backed by a
// Transport. Answers default to false; any transport failure is cached as a
// denial. Every key carries a monotonic version and a fetch result is applied
// only if its version is still current, so a Refresh always wins over an older
// in-flight fetch.
type Oracle struct {
	transport Transport
	opts      Options
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	entries    map[string]*entry
	versions   map[string]uint64
	subscribed map[string]struct{}
	disposed   bool

	group singleflight.Group

	refreshMu sync.Mutex
	running   *refreshRun
	pending   *refreshRun

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	dispose   sync.Once

	cronMu  sync.Mutex
	poller  *cron.Cron
	started bool

	lastUsed    atomic.Int64
	authExpired atomic.Bool
}

// New constructs an Oracle. Call Start to populate the cache and launch the poller.
func New(transport Transport, opts Options) (*Oracle, error) {
	if transport == nil {
		return nil, errors.New("oracle: transport is required")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Modules == nil {
		opts.Modules = permissions.ModulePermissions
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Permissions == nil && opts.ModuleKeys == nil {
		opts.Permissions, opts.ModuleKeys = DefaultSubscriptions()
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithModule("oracle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Oracle{
		transport:  transport,
		opts:       opts,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
		versions:   make(map[string]uint64),
		subscribed: make(map[string]struct{}),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, name := range opts.Permissions {
		o.subscribed[strings.TrimSpace(name)] = struct{}{}
	}
	for _, module := range opts.ModuleKeys {
		o.subscribed[modulePrefix+strings.TrimSpace(module)] = struct{}{}
	}
	o.touch()
	return o, nil
}

// DefaultSubscriptions lists every permission referenced by a module declaration
// together with every declared module.
func DefaultSubscriptions() (names []string, modules []string) {
	seen := make(map[string]struct{})
	for _, m := range permissions.Modules() {
		modules = append(modules, m.Name)
		for _, perm := range m.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			names = append(names, perm)
		}
	}
	return names, modules
}

// Start performs the initial population in the background and schedules the
// periodic refresh of stale entries. Ready closes once the population finishes.
func (o *Oracle) Start() error {
	o.cronMu.Lock()
	defer o.cronMu.Unlock()

	if o.isDisposed() {
		return ErrDisposed
	}
	if o.started {
		return nil
	}

	poller := cron.New(cron.WithLogger(cron.DiscardLogger))
	if _, err := poller.AddFunc("@every "+o.opts.RefreshInterval.String(), func() {
		o.refreshStale(o.ctx)
	}); err != nil {
		return fmt.Errorf("oracle: schedule refresh: %w", err)
	}
	poller.Start()
	o.poller = poller
	o.started = true

	go func() {
		_ = o.Refresh(o.ctx)
	}()
	return nil
}

// Ready is closed when the first full population completes.
func (o *Oracle) Ready() <-chan struct{} {
	return o.ready
}

// WaitReady blocks until the first population completes, the oracle is disposed
// or ctx ends.
func (o *Oracle) WaitReady(ctx context.Context) error {
	select {
	case <-o.ready:
		if o.isDisposed() {
			return ErrDisposed
		}
		return nil
	case <-o.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasPermission is a synchronous cache read. Absent entries are denied.
func (o *Oracle) HasPermission(name string) bool {
	o.touch()
	value, _, ok := o.cached(strings.TrimSpace(name))
	return ok && value
}

// HasPermissionAsync returns a fresh answer, fetching through the transport when
// the entry is missing or stale. Concurrent callers share one fetch.
func (o *Oracle) HasPermissionAsync(ctx context.Context, name string) bool {
	o.touch()
	return o.resolve(ctx, strings.TrimSpace(name), kindPermission)
}

// CanAccessModule is the synchronous module check: an OR across the module's
// declared permissions, true for an empty list and false for an undeclared module.
func (o *Oracle) CanAccessModule(module string) bool {
	o.touch()
	module = strings.TrimSpace(module)
	perms, ok := o.opts.Modules(module)
	if !ok {
		return false
	}
	if len(perms) == 0 {
		return true
	}
	if value, _, ok := o.cached(modulePrefix + module); ok && value {
		return true
	}
	for _, perm := range perms {
		if value, _, ok := o.cached(perm); ok && value {
			return true
		}
	}
	return false
}

// CanAccessModuleAsync fetches the module decision through the transport when
// the cached one is missing or stale.
func (o *Oracle) CanAccessModuleAsync(ctx context.Context, module string) bool {
	o.touch()
	module = strings.TrimSpace(module)
	perms, ok := o.opts.Modules(module)
	if !ok {
		return false
	}
	if len(perms) == 0 {
		return true
	}
	return o.resolve(ctx, modulePrefix+module, kindModule)
}

// Subscribe adds permission names to the set kept fresh by the poller and Refresh.
func (o *Oracle) Subscribe(names ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			o.subscribed[name] = struct{}{}
		}
	}
}

// Refresh invalidates every entry and re-fetches the subscribed set. A call
// joins a running refresh only if that refresh has not begun fetching yet;
// otherwise it waits for one trailing refresh that starts after the current one
// ends. Any number of such callers share that trailing refresh.
func (o *Oracle) Refresh(ctx context.Context) error {
	if o.isDisposed() {
		return ErrDisposed
	}

	o.refreshMu.Lock()
	var run *refreshRun
	switch {
	case o.running == nil:
		run = &refreshRun{done: make(chan struct{})}
		o.running = run
		go o.runRefreshes(run)
	case !o.running.fetching:
		run = o.running
	case o.pending != nil:
		run = o.pending
	default:
		run = &refreshRun{done: make(chan struct{})}
		o.pending = run
	}
	o.refreshMu.Unlock()

	select {
	case <-run.done:
		if o.isDisposed() {
			return ErrDisposed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRefreshes executes run and then any trailing refresh queued meanwhile.
func (o *Oracle) runRefreshes(run *refreshRun) {
	for run != nil {
		o.refreshMu.Lock()
		run.fetching = true
		o.refreshMu.Unlock()

		if !o.isDisposed() {
			keys := o.invalidateAll()
			o.fetchAll(o.ctx, keys)
		}
		o.readyOnce.Do(func() { close(o.ready) })

		o.refreshMu.Lock()
		close(run.done)
		run = o.pending
		o.pending = nil
		o.running = run
		o.refreshMu.Unlock()
	}
}

// Snapshot returns the cached permission answers keyed by name.
func (o *Oracle) Snapshot() map[string]bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]bool, len(o.entries))
	for key, e := range o.entries {
		if !strings.HasPrefix(key, modulePrefix) {
			out[key] = e.value
		}
	}
	return out
}

// Granted returns the sorted cached permission names currently answered true.
func (o *Oracle) Granted() []string {
	var names []string
	for name, ok := range o.Snapshot() {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LastUsed reports the last time the oracle was queried.
func (o *Oracle) LastUsed() time.Time {
	return time.Unix(0, o.lastUsed.Load())
}

// Dispose stops the poller, clears the cache and turns late responses into no-ops.
func (o *Oracle) Dispose() {
	o.dispose.Do(func() {
		o.mu.Lock()
		o.disposed = true
		o.entries = make(map[string]*entry)
		o.mu.Unlock()

		o.cancel()
		close(o.done)

		o.cronMu.Lock()
		if o.poller != nil {
			o.poller.Stop()
		}
		o.cronMu.Unlock()
	})
}

// Disposed reports whether Dispose has been called.
func (o *Oracle) Disposed() bool {
	return o.isDisposed()
}

func (o *Oracle) resolve(ctx context.Context, key, kind string) bool {
	if key == "" || key == modulePrefix {
		return false
	}

	value, fresh, ok := o.cached(key)
	switch {
	case ok && fresh:
		metrics.OracleLookups.WithLabelValues(kind, "hit").Inc()
		return value
	case ok:
		metrics.OracleLookups.WithLabelValues(kind, "stale").Inc()
	default:
		metrics.OracleLookups.WithLabelValues(kind, "miss").Inc()
	}

	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		res := o.load(ctx, key)
		if res.applied {
			return res.value
		}
		if ctx.Err() != nil || o.isDisposed() {
			return false
		}
		if value, fresh, ok := o.cached(key); ok && fresh {
			return value
		}
	}
	return false
}

// load joins or starts the fetch for key at its current version. The fetch runs
// on the oracle's own context, so a caller giving up does not cancel it.
func (o *Oracle) load(ctx context.Context, key string) result {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return result{}
	}
	version := o.versions[key]
	o.subscribed[key] = struct{}{}
	o.mu.Unlock()

	flight := key + "@" + strconv.FormatUint(version, 10)
	ch := o.group.DoChan(flight, func() (interface{}, error) {
		return o.fetch(key, version), nil
	})

	select {
	case res := <-ch:
		return res.Val.(result)
	case <-ctx.Done():
		return result{}
	}
}

func (o *Oracle) fetch(key string, version uint64) result {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.FetchTimeout)
	defer cancel()

	kind := kindPermission
	var (
		value bool
		err   error
	)
	if module, ok := strings.CutPrefix(key, modulePrefix); ok {
		kind = kindModule
		value, err = o.transport.CheckModuleAccess(ctx, module)
	} else {
		value, err = o.transport.CheckPermission(ctx, key)
	}

	if err != nil {
		value = false
	}

	applied := o.apply(key, version, value)
	switch {
	case !applied:
		metrics.OracleFetches.WithLabelValues(kind, "discarded").Inc()
	case err != nil:
		metrics.OracleFetches.WithLabelValues(kind, "error").Inc()
		o.log.Warn("permission fetch failed, denying", zap.String("key", key), zap.Error(err))
	default:
		metrics.OracleFetches.WithLabelValues(kind, "ok").Inc()
		o.authExpired.Store(false)
	}

	if applied && errors.Is(err, ErrAuthExpired) && o.authExpired.CompareAndSwap(false, true) {
		if hook := o.opts.OnAuthExpired; hook != nil {
			hook()
		}
	}

	return result{value: value, applied: applied}
}

func (o *Oracle) apply(key string, version uint64, value bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.disposed || o.versions[key] != version {
		return false
	}
	o.entries[key] = &entry{value: value, fetchedAt: o.opts.Clock(), version: version}
	return true
}

func (o *Oracle) cached(key string) (value bool, fresh bool, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.entries[key]
	if !ok {
		return false, false, false
	}
	return e.value, o.opts.Clock().Sub(e.fetchedAt) < o.opts.RefreshInterval, true
}

// invalidateAll bumps every known key's version, drops all entries and returns
// the keys to re-fetch.
func (o *Oracle) invalidateAll() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key := range o.entries {
		o.subscribed[key] = struct{}{}
	}
	keys := make([]string, 0, len(o.subscribed))
	for key := range o.subscribed {
		o.versions[key]++
		keys = append(keys, key)
	}
	o.entries = make(map[string]*entry)
	sort.Strings(keys)
	return keys
}

func (o *Oracle) refreshStale(ctx context.Context) {
	o.mu.RLock()
	if o.disposed {
		o.mu.RUnlock()
		return
	}
	now := o.opts.Clock()
	var keys []string
	for key := range o.subscribed {
		e, ok := o.entries[key]
		if !ok || now.Sub(e.fetchedAt) >= o.opts.RefreshInterval {
			keys = append(keys, key)
		}
	}
	o.mu.RUnlock()

	sort.Strings(keys)
	o.fetchAll(ctx, keys)
}

func (o *Oracle) fetchAll(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, key := range keys {
		g.Go(func() error {
			o.load(gctx, key)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Oracle) isDisposed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.disposed
}

func (o *Oracle) touch() {
	o.lastUsed.Store(o.opts.Clock().UnixNano())
}
