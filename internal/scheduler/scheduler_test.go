package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticeboard/internal/broadcast"
	"noticeboard/internal/clock"
	"noticeboard/internal/metrics"
	"noticeboard/internal/notice"
)

const layout = "2006-01-02 15:04:05"

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, department string, ev broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Department = department
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.Event(nil), p.events...)
}

type fakeStorage struct {
	mu      sync.Mutex
	deleted []string
	fail    bool
}

func (f *fakeStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	return name, nil
}

func (f *fakeStorage) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("read-only file system")
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeStorage) Retrieve(ctx context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type fixture struct {
	store     *notice.MemoryStore
	storage   *fakeStorage
	publisher *recordingPublisher
	clock     *clock.Fake
	sched     *Scheduler
}

func newFixture(store notice.Store) *fixture {
	f := &fixture{
		store:     notice.NewMemoryStore(),
		storage:   &fakeStorage{},
		publisher: &recordingPublisher{},
		clock:     clock.NewFake(t0),
	}
	if store == nil {
		store = f.store
	}
	f.sched = NewScheduler(store, f.storage, f.publisher, f.clock, time.Second, layout)
	return f
}

func (f *fixture) insert(t *testing.T, n notice.Notice) uint64 {
	t.Helper()
	id, err := f.store.Insert(context.Background(), &n)
	require.NoError(t, err)
	return id
}

func (f *fixture) snapshot(t *testing.T, dept string) []notice.Notice {
	t.Helper()
	ns, err := f.store.QueryByDepartment(context.Background(), dept, notice.FilterVisible, f.clock.Now())
	require.NoError(t, err)
	return ns
}

func ptr(t time.Time) *time.Time { return &t }

func TestScheduler_ImmediateNoticeExpires(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	id := f.insert(t, notice.Notice{Department: "cs", AssetRef: "a.png", AssetKind: notice.KindImage, ExpireAt: t0.Add(time.Hour), Broadcasted: true})
	require.Len(t, f.snapshot(t, "cs"), 1)

	f.clock.Advance(2 * time.Hour)
	res := f.sched.RunOnce(ctx)

	assert.Equal(t, Result{Expired: 1}, res)
	assert.Empty(t, f.snapshot(t, "cs"))
	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.TypeNoticeRemoved, events[0].Type)
	assert.Equal(t, "cs", events[0].Department)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, []string{"a.png"}, f.storage.deleted)
}

func TestScheduler_ScheduledNoticeActivatesOnce(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	id := f.insert(t, notice.Notice{Department: "it", AssetRef: "b.png", AssetKind: notice.KindImage, ScheduledAt: ptr(t0.Add(30 * time.Minute)), ExpireAt: t0.Add(48 * time.Hour)})
	assert.Empty(t, f.snapshot(t, "it"))

	assert.Equal(t, Result{}, f.sched.RunOnce(ctx))
	assert.Empty(t, f.publisher.all())

	before := testutil.ToFloat64(metrics.NoticesActivated)
	f.clock.Advance(31 * time.Minute)
	assert.Equal(t, Result{Activated: 1}, f.sched.RunOnce(ctx))
	assert.Equal(t, Result{}, f.sched.RunOnce(ctx))

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.TypeNoticeActivated, events[0].Type)
	require.NotNil(t, events[0].Notice)
	assert.Equal(t, id, events[0].Notice.ID)
	assert.Equal(t, "2024-03-01 10:30:00", *events[0].Notice.ScheduledAt)
	assert.Equal(t, "2024-03-01 10:31:00", events[0].At)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NoticesActivated))

	snap := f.snapshot(t, "it")
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Broadcasted)
}

func TestScheduler_ExpiredBeforeActivationIsNeverAnnounced(t *testing.T) {
	f := newFixture(nil)

	f.insert(t, notice.Notice{Department: "mech", AssetRef: "c.png", ScheduledAt: ptr(t0.Add(time.Minute)), ExpireAt: t0.Add(2 * time.Minute)})
	f.clock.Advance(time.Hour)

	res := f.sched.RunOnce(context.Background())
	assert.Equal(t, Result{Expired: 1}, res)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.TypeNoticeRemoved, events[0].Type)
}

func TestScheduler_ExpiryIsTerminal(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	f.insert(t, notice.Notice{Department: "cs", AssetRef: "d.png", ExpireAt: t0.Add(time.Minute), Broadcasted: true})
	f.clock.Advance(time.Hour)
	f.sched.RunOnce(ctx)

	for i := 0; i < 3; i++ {
		f.clock.Advance(24 * time.Hour)
		assert.Equal(t, Result{}, f.sched.RunOnce(ctx))
		assert.Empty(t, f.snapshot(t, "cs"))
	}
	assert.Len(t, f.publisher.all(), 1)
}

func TestScheduler_AssetCleanupFailureDoesNotBlock(t *testing.T) {
	f := newFixture(nil)
	f.storage.fail = true

	f.insert(t, notice.Notice{Department: "cs", AssetRef: "e.png", ExpireAt: t0})
	res := f.sched.RunOnce(context.Background())

	assert.Equal(t, Result{Expired: 1}, res)
	assert.Len(t, f.publisher.all(), 1)
}

// vanishingStore reports every expired row as already gone, like an admin
// delete racing the tick.
type vanishingStore struct {
	*notice.MemoryStore
}

func (vanishingStore) Delete(context.Context, uint64) (bool, error) { return false, nil }

func TestScheduler_DeletedInBetweenIsNoop(t *testing.T) {
	f := newFixture(nil)
	sched := NewScheduler(vanishingStore{f.store}, f.storage, f.publisher, f.clock, time.Second, layout)

	f.insert(t, notice.Notice{Department: "cs", AssetRef: "f.png", ExpireAt: t0})
	assert.Equal(t, Result{}, sched.RunOnce(context.Background()))
	assert.Empty(t, f.publisher.all())
	assert.Empty(t, f.storage.deleted)
}

type brokenStore struct {
	*notice.MemoryStore
	calls atomic.Int32
	panic bool
}

func (b *brokenStore) QueryPendingActivation(context.Context, time.Time) ([]notice.Notice, error) {
	b.calls.Add(1)
	if b.panic {
		panic("driver bug")
	}
	return nil, errors.New("connection refused")
}

func TestScheduler_StoreErrorsAreCounted(t *testing.T) {
	f := newFixture(nil)
	store := &brokenStore{MemoryStore: f.store}
	sched := NewScheduler(store, f.storage, f.publisher, f.clock, time.Second, layout)

	f.insert(t, notice.Notice{Department: "cs", AssetRef: "g.png", ExpireAt: t0})
	res := sched.RunOnce(context.Background())

	// the expiry scan still runs
	assert.Equal(t, Result{Expired: 1, Errors: 1}, res)
}

func TestScheduler_LoopSurvivesPanics(t *testing.T) {
	f := newFixture(nil)
	store := &brokenStore{MemoryStore: f.store, panic: true}
	sched := NewScheduler(store, f.storage, f.publisher, f.clock, time.Second, layout)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_ConcurrentTicksAnnounceOnce(t *testing.T) {
	f := newFixture(nil)
	f.insert(t, notice.Notice{Department: "it", AssetRef: "h.png", ScheduledAt: ptr(t0), ExpireAt: t0.Add(time.Hour)})

	other := NewScheduler(f.store, f.storage, f.publisher, f.clock, time.Second, layout)
	var wg sync.WaitGroup
	for _, s := range []*Scheduler{f.sched, other} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.RunOnce(context.Background())
		}(s)
	}
	wg.Wait()

	assert.Len(t, f.publisher.all(), 1)
}
