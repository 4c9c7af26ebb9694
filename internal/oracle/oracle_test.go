package oracle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTransport answers from maps. When hook is set it takes over every call.
type fakeTransport struct {
	mu      sync.Mutex
	grants  map[string]bool
	modules map[string]bool
	err     error
	calls   map[string]int
	hook    func(ctx context.Context, key string) (bool, error)
}

func newFakeTransport(grants ...string) *fakeTransport {
	t := &fakeTransport{
		grants:  make(map[string]bool),
		modules: make(map[string]bool),
		calls:   make(map[string]int),
	}
	for _, g := range grants {
		t.grants[g] = true
	}
	return t
}

func (t *fakeTransport) set(name string, value bool) {
	t.mu.Lock()
	t.grants[name] = value
	t.mu.Unlock()
}

func (t *fakeTransport) callCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[key]
}

func (t *fakeTransport) answer(ctx context.Context, key string, table map[string]bool, name string) (bool, error) {
	t.mu.Lock()
	t.calls[key]++
	hook, err, value := t.hook, t.err, table[name]
	t.mu.Unlock()

	if hook != nil {
		return hook(ctx, key)
	}
	return value, err
}

func (t *fakeTransport) CheckPermission(ctx context.Context, name string) (bool, error) {
	return t.answer(ctx, name, t.grants, name)
}

func (t *fakeTransport) CheckModuleAccess(ctx context.Context, module string) (bool, error) {
	return t.answer(ctx, modulePrefix+module, t.modules, module)
}

func newTestOracle(t *testing.T, transport Transport, clock *fakeClock, opts Options) *Oracle {
	t.Helper()
	if clock != nil {
		opts.Clock = clock.Now
	}
	if opts.Permissions == nil {
		opts.Permissions = []string{}
	}
	o, err := New(transport, opts)
	require.NoError(t, err)
	t.Cleanup(o.Dispose)
	return o
}

func TestFailClosedDefaults(t *testing.T) {
	o := newTestOracle(t, newFakeTransport("cases.view.all"), nil, Options{})

	require.False(t, o.HasPermission("cases.view.all"), "nothing is cached yet")
	require.False(t, o.HasPermission(""))
	require.False(t, o.CanAccessModule("cases"))
	require.False(t, o.CanAccessModule("billing"))
	require.True(t, o.CanAccessModule("profile"))
}

func TestColdCacheFirstCheck(t *testing.T) {
	transport := newFakeTransport("cases.view.own")
	o := newTestOracle(t, transport, newFakeClock(), Options{})
	ctx := context.Background()

	require.False(t, o.HasPermission("cases.view.own"))
	require.True(t, o.HasPermissionAsync(ctx, "cases.view.own"))
	require.True(t, o.HasPermission("cases.view.own"))

	require.True(t, o.HasPermissionAsync(ctx, "cases.view.own"))
	require.Equal(t, 1, transport.callCount("cases.view.own"), "fresh entries are served from cache")

	require.False(t, o.HasPermissionAsync(ctx, "cases.view.all"))
	require.Equal(t, []string{"cases.view.own"}, o.Granted())
}

func TestConcurrentChecksShareOneFetch(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		started <- struct{}{}
		<-release
		return true, nil
	}
	o := newTestOracle(t, transport, newFakeClock(), Options{})

	const callers = 10
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.HasPermissionAsync(context.Background(), "notes.view.team") {
				granted.Add(1)
			}
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(callers), granted.Load())
	require.Equal(t, 1, transport.callCount("notes.view.team"))
}

func TestTransportFailureIsCachedAsDenial(t *testing.T) {
	transport := newFakeTransport("cases.view.all")
	transport.err = errors.New("connection refused")
	o := newTestOracle(t, transport, newFakeClock(), Options{})

	require.False(t, o.HasPermissionAsync(context.Background(), "cases.view.all"))

	snapshot := o.Snapshot()
	value, ok := snapshot["cases.view.all"]
	require.True(t, ok, "failure result is stored")
	require.False(t, value)
}

func TestAuthExpiredFiresHookOnce(t *testing.T) {
	transport := newFakeTransport()
	transport.err = ErrAuthExpired

	var fired atomic.Int32
	o := newTestOracle(t, transport, newFakeClock(), Options{OnAuthExpired: func() { fired.Add(1) }})

	require.False(t, o.HasPermissionAsync(context.Background(), "cases.view.all"))
	require.False(t, o.HasPermissionAsync(context.Background(), "notes.view.all"))
	require.Equal(t, int32(1), fired.Load())
}

func TestPeriodicRefreshPicksUpRevocation(t *testing.T) {
	clock := newFakeClock()
	transport := newFakeTransport("cases.edit.all")
	o := newTestOracle(t, transport, clock, Options{RefreshInterval: 30 * time.Second})
	ctx := context.Background()

	require.True(t, o.HasPermissionAsync(ctx, "cases.edit.all"))

	transport.set("cases.edit.all", false)
	clock.Advance(10 * time.Second)
	o.refreshStale(ctx)
	require.True(t, o.HasPermission("cases.edit.all"), "fresh entries are not re-fetched")

	clock.Advance(25 * time.Second)
	o.refreshStale(ctx)
	require.False(t, o.HasPermission("cases.edit.all"))
	require.Equal(t, 2, transport.callCount("cases.edit.all"))
}

func TestStaleEntryIsRefetchedOnAsyncRead(t *testing.T) {
	clock := newFakeClock()
	transport := newFakeTransport("todos.view.own")
	o := newTestOracle(t, transport, clock, Options{RefreshInterval: time.Minute})
	ctx := context.Background()

	require.True(t, o.HasPermissionAsync(ctx, "todos.view.own"))
	transport.set("todos.view.own", false)
	clock.Advance(2 * time.Minute)

	require.True(t, o.HasPermission("todos.view.own"), "sync read serves the last known answer")
	require.False(t, o.HasPermissionAsync(ctx, "todos.view.own"))
	require.False(t, o.HasPermission("todos.view.own"))
}

func TestRefreshRepopulatesSubscriptionsAndClosesReady(t *testing.T) {
	transport := newFakeTransport("cases.view.own", "dashboard.view.own")
	o := newTestOracle(t, transport, newFakeClock(), Options{
		Permissions: []string{"cases.view.own", "dashboard.view.own", "cases.view.all"},
	})

	select {
	case <-o.Ready():
		t.Fatal("ready must not close before the first population")
	default:
	}

	require.NoError(t, o.Refresh(context.Background()))
	require.NoError(t, o.WaitReady(context.Background()))

	require.True(t, o.HasPermission("cases.view.own"))
	require.True(t, o.HasPermission("dashboard.view.own"))
	require.False(t, o.HasPermission("cases.view.all"))
	require.True(t, o.CanAccessModule("cases"))
	require.True(t, o.CanAccessModule("dashboard"))
	require.False(t, o.CanAccessModule("knowledge"))
}

func (o *Oracle) trailingRefreshQueued() bool {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
	return o.pending != nil
}

func TestRefreshIsIdempotent(t *testing.T) {
	transport := newFakeTransport("cases.view.own")
	release := make(chan struct{})
	entered := make(chan struct{})
	var enterOnce sync.Once
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		enterOnce.Do(func() { close(entered) })
		<-release
		return key == "cases.view.own", nil
	}
	o := newTestOracle(t, transport, newFakeClock(), Options{Permissions: []string{"cases.view.own", "cases.view.all"}})

	first := make(chan error, 1)
	go func() { first <- o.Refresh(context.Background()) }()
	<-entered

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.Refresh(context.Background())
		}()
	}
	require.Eventually(t, o.trailingRefreshQueued, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	require.NoError(t, <-first)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 2, transport.callCount("cases.view.own"), "late callers share one trailing refresh")
	snapshot := o.Snapshot()

	require.NoError(t, o.Refresh(context.Background()))
	require.Equal(t, snapshot, o.Snapshot(), "back-to-back refreshes converge on the same state")
	require.Equal(t, 3, transport.callCount("cases.view.own"))
}

func TestRefreshAfterGrantChangeIsNotAnsweredByOlderRefresh(t *testing.T) {
	transport := newFakeTransport()
	var granted atomic.Bool
	granted.Store(true)
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		value := granted.Load()
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return value, nil
	}
	o := newTestOracle(t, transport, newFakeClock(), Options{Permissions: []string{"cases.view.all"}})
	ctx := context.Background()

	before := make(chan error, 1)
	go func() { before <- o.Refresh(ctx) }()
	<-entered

	granted.Store(false)
	after := make(chan error, 1)
	go func() { after <- o.Refresh(ctx) }()
	require.Eventually(t, o.trailingRefreshQueued, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-before)
	require.NoError(t, <-after)

	require.False(t, o.HasPermission("cases.view.all"))
	require.False(t, o.HasPermissionAsync(ctx, "cases.view.all"))
	require.Equal(t, 2, transport.callCount("cases.view.all"))
}

func TestManualRefreshWinsOverLatePeriodicResult(t *testing.T) {
	clock := newFakeClock()
	transport := newFakeTransport()

	var calls atomic.Int32
	slow := make(chan struct{})
	slowStarted := make(chan struct{})
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		if calls.Add(1) == 2 {
			close(slowStarted)
			<-slow
			return false, nil
		}
		return true, nil
	}
	o := newTestOracle(t, transport, clock, Options{RefreshInterval: 30 * time.Second})
	ctx := context.Background()

	require.True(t, o.HasPermissionAsync(ctx, "cases.view.team"))
	clock.Advance(time.Minute)

	periodic := make(chan struct{})
	go func() {
		o.refreshStale(ctx)
		close(periodic)
	}()
	<-slowStarted

	require.NoError(t, o.Refresh(ctx))
	require.True(t, o.HasPermission("cases.view.team"))

	close(slow)
	<-periodic
	require.True(t, o.HasPermission("cases.view.team"), "older periodic result is discarded")
}

func TestCallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{})
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		close(started)
		<-release
		return true, nil
	}
	o := newTestOracle(t, transport, newFakeClock(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- o.HasPermissionAsync(ctx, "archive.view.all") }()

	<-started
	cancel()
	require.False(t, <-done)

	close(release)
	require.Eventually(t, func() bool { return o.HasPermission("archive.view.all") }, time.Second, 5*time.Millisecond)
}

func TestDisposeDuringFetch(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{})
	transport.hook = func(ctx context.Context, key string) (bool, error) {
		close(started)
		<-release
		return true, nil
	}
	o := newTestOracle(t, transport, newFakeClock(), Options{})

	done := make(chan bool)
	go func() { done <- o.HasPermissionAsync(context.Background(), "cases.delete.all") }()

	<-started
	o.Dispose()
	close(release)

	require.False(t, <-done)
	require.False(t, o.HasPermission("cases.delete.all"))
	require.Empty(t, o.Snapshot())
	require.True(t, o.Disposed())
	require.ErrorIs(t, o.WaitReady(context.Background()), ErrDisposed)
	require.ErrorIs(t, o.Refresh(context.Background()), ErrDisposed)
	require.ErrorIs(t, o.Start(), ErrDisposed)
}

func TestModuleAccessIsMonotonic(t *testing.T) {
	transport := newFakeTransport("cases.view.team")
	o := newTestOracle(t, transport, newFakeClock(), Options{
		Permissions: []string{"cases.view.own", "cases.view.team", "cases.view.all"},
	})
	require.NoError(t, o.Refresh(context.Background()))
	require.True(t, o.CanAccessModule("cases"))

	transport.set("cases.view.all", true)
	require.NoError(t, o.Refresh(context.Background()))
	require.True(t, o.CanAccessModule("cases"), "granting more never removes access")
}

func TestCanAccessModuleAsync(t *testing.T) {
	transport := newFakeTransport()
	transport.modules["knowledge"] = true
	o := newTestOracle(t, transport, newFakeClock(), Options{})
	ctx := context.Background()

	require.True(t, o.CanAccessModuleAsync(ctx, "knowledge"))
	require.True(t, o.CanAccessModule("knowledge"), "module decision is cached")
	require.True(t, o.CanAccessModuleAsync(ctx, "profile"))
	require.False(t, o.CanAccessModuleAsync(ctx, "billing"))
	require.False(t, o.CanAccessModuleAsync(ctx, "archive"))

	require.Equal(t, 1, transport.callCount(modulePrefix+"knowledge"))
	require.Zero(t, transport.callCount(modulePrefix+"profile"))
}

func TestStartPopulatesDefaultSubscriptions(t *testing.T) {
	transport := newFakeTransport("dashboard.view.own")
	o, err := New(transport, Options{})
	require.NoError(t, err)
	t.Cleanup(o.Dispose)

	require.NoError(t, o.Start())
	require.NoError(t, o.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.WaitReady(ctx))

	require.True(t, o.CanAccessModule("dashboard"))
	require.False(t, o.CanAccessModule("cases"))
	require.Equal(t, 1, transport.callCount(modulePrefix+"dashboard"))
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}
