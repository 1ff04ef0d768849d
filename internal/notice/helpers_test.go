package notice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noticeboard/internal/asset"
	"noticeboard/internal/broadcast"
	"noticeboard/internal/clock"
	"noticeboard/internal/config"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeStorage struct {
	mu         sync.Mutex
	seq        int
	objects    map[string][]byte
	failStore  bool
	failDelete bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	if f.failStore {
		return "", errors.New("disk full")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ref := fmt.Sprintf("%04d_%s", f.seq, asset.SanitizeFilename(name))
	f.objects[ref] = b
	return ref, nil
}

func (f *fakeStorage) Delete(ctx context.Context, ref string) error {
	if f.failDelete {
		return errors.New("permission denied")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, ref)
	return nil
}

func (f *fakeStorage) Retrieve(ctx context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[ref]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeRasterizer struct {
	pages int
	err   error
}

func (f fakeRasterizer) Rasterize(ctx context.Context, pdf io.Reader) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]byte, f.pages)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("jpeg-%d", i+1))
	}
	return out, nil
}

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

// failingBatchStore rejects every batch insert.
type failingBatchStore struct {
	*MemoryStore
}

func (failingBatchStore) BatchInsert(context.Context, []*Notice) ([]uint64, error) {
	return nil, errors.New("deadlock found")
}

type testEnv struct {
	svc       *Service
	store     Store
	storage   *fakeStorage
	publisher *recordingPublisher
	clock     *clock.Fake
}

func newTestEnv(t *testing.T, store Store, rasterizer asset.Rasterizer) *testEnv {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	if rasterizer == nil {
		rasterizer = fakeRasterizer{pages: 2}
	}
	env := &testEnv{
		store:     store,
		storage:   newFakeStorage(),
		publisher: &recordingPublisher{},
		clock:     clock.NewFake(t0),
	}
	svc, err := NewService(store, env.storage, rasterizer, env.publisher, env.clock, config.Default().Notice)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func upload(name, body string) Upload {
	return Upload{Filename: name, Body: bytes.NewBufferString(body)}
}

func timePtr(t time.Time) *time.Time { return &t }

func (e *testEnv) ctx() context.Context { return context.Background() }

func jsonID(id uint64) string { return strconv.FormatUint(id, 10) }
