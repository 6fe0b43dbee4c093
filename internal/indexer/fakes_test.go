package indexer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

type memListings struct {
	mu    sync.Mutex
	views map[string]domain.ListingView
}

func newMemListings() *memListings { return &memListings{views: map[string]domain.ListingView{}} }

func (m *memListings) Upsert(_ context.Context, v domain.ListingView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.views[v.ID]; ok && old.UpdatedBlock > v.UpdatedBlock {
		return nil
	}
	m.views[v.ID] = v
	return nil
}

func (m *memListings) GetByID(_ context.Context, id string) (domain.ListingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	if !ok {
		return domain.ListingView{}, domain.ErrNotFound
	}
	return v, nil
}

func (m *memListings) find(match func(domain.ListingView) bool) (domain.ListingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.views {
		if match(v) {
			return v, nil
		}
	}
	return domain.ListingView{}, domain.ErrNotFound
}

func (m *memListings) GetByModule(_ context.Context, id string) (domain.ListingView, error) {
	return m.find(func(v domain.ListingView) bool { return v.ModuleID == id })
}

func (m *memListings) GetByEscrow(_ context.Context, id string) (domain.ListingView, error) {
	return m.find(func(v domain.ListingView) bool { return v.EscrowID == id })
}

func (m *memListings) List(context.Context, domain.ListingFilter) ([]domain.ListingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ListingView, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memListings) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.views)), nil
}

type memEvents struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

func (m *memEvents) InsertBatch(_ context.Context, recs []domain.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	return nil
}

func (m *memEvents) List(_ context.Context, f domain.EventFilter) ([]domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventRecord
	for _, r := range m.records {
		if r.Seq > f.FromSeq && (f.Name == "" || f.Name == r.Name) && (f.Limit <= 0 || len(out) < f.Limit) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memEvents) ListByListing(_ context.Context, id string, _ domain.ListOpts) ([]domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventRecord
	for _, r := range m.records {
		if r.ListingID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

type memCursors struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newMemCursors() *memCursors { return &memCursors{values: map[string]uint64{}} }

func (m *memCursors) Get(_ context.Context, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name], nil
}

func (m *memCursors) Set(_ context.Context, name string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.values[name] {
		m.values[name] = seq
	}
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  int
}

func (b *memBus) Publish(_ context.Context, ch string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch]++
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed++
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memCache struct {
	mu    sync.Mutex
	views map[string]domain.ListingView
}

func (c *memCache) Set(_ context.Context, v domain.ListingView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.ID] = v
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (domain.ListingView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[id]
	if !ok {
		return domain.ListingView{}, domain.ErrNotFound
	}
	return v, nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	return nil
}

type handlerFunc func(context.Context, domain.EventRecord) error

func (f handlerFunc) HandleEvent(ctx context.Context, rec domain.EventRecord) error {
	return f(ctx, rec)
}

type resetCounter struct {
	cursors *memCursors
	calls   int
}

func (r *resetCounter) ResetProjection(context.Context) error {
	r.calls++
	r.cursors.mu.Lock()
	r.cursors.values = map[string]uint64{}
	r.cursors.mu.Unlock()
	return nil
}

type memLease struct {
	locks *memLocks
	name  string
}

func (l *memLease) Extend(context.Context, time.Duration) error { return nil }

func (l *memLease) Release() {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	delete(l.locks.held, l.name)
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) AcquireLease(_ context.Context, name string, _ time.Duration) (domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return nil, domain.ErrLockHeld
	}
	m.held[name] = true
	return &memLease{locks: m, name: name}, nil
}

func (m *memLocks) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l, err := m.AcquireLease(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

type memArchiver struct {
	segments [][2]uint64
}

func (a *memArchiver) ArchiveSegment(_ context.Context, from, to uint64) (int, error) {
	a.segments = append(a.segments, [2]uint64{from, to})
	return int(to - from), nil
}
