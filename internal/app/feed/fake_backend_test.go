package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/duashare/project/internal/contracts"
)

type fakeSubscription struct {
	events       chan contracts.ChangeEvent
	broken       chan struct{}
	breakOnce    sync.Once
	mu           sync.Mutex
	unsubscribed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan contracts.ChangeEvent, 16),
		broken: make(chan struct{}),
	}
}

func (s *fakeSubscription) Events() <-chan contracts.ChangeEvent { return s.events }
func (s *fakeSubscription) Broken() <-chan struct{}              { return s.broken }

func (s *fakeSubscription) Unsubscribe() error {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSubscription) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (s *fakeSubscription) breakNow() {
	s.breakOnce.Do(func() { close(s.broken) })
}

type fakeBackend struct {
	mu     sync.Mutex
	rows   map[string]contracts.Prayer
	calls  map[string]int
	subs   []*fakeSubscription
	nextID int
	now    time.Time

	// committed holds every updated row in commit order.
	committed   []contracts.Prayer
	// afterUpdate runs once a write is committed, before Update returns.
	afterUpdate func(contracts.Prayer)

	listErr      error
	insertErr    error
	updateErr    error
	deleteErr    error
	subscribeErr error
}

func newFakeBackend(rows ...contracts.Prayer) *fakeBackend {
	b := &fakeBackend{
		rows:  map[string]contracts.Prayer{},
		calls: map[string]int{},
		now:   time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
	for _, row := range rows {
		b.rows[row.ID] = row
	}
	return b
}

func (b *fakeBackend) List(_ context.Context, filter Filter) ([]contracts.Prayer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["list"]++
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]contracts.Prayer, 0, len(b.rows))
	for _, row := range b.rows {
		if filter.Match(row) {
			out = append(out, row)
		}
	}
	// Deliberately unordered relative to the feed order; the view sorts.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (b *fakeBackend) Insert(_ context.Context, content string) (contracts.Prayer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["insert"]++
	if b.insertErr != nil {
		return contracts.Prayer{}, b.insertErr
	}
	b.nextID++
	b.now = b.now.Add(time.Minute)
	row := contracts.Prayer{
		ID:          fmt.Sprintf("p-%d", b.nextID),
		Content:     content,
		IsPublished: true,
		CreatedAt:   b.now,
		Version:     1,
	}
	b.rows[row.ID] = row
	return row, nil
}

func (b *fakeBackend) Update(_ context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	row, err := b.update(id, patch)
	if err == nil && b.afterUpdate != nil {
		hook := b.afterUpdate
		b.afterUpdate = nil
		hook(row)
	}
	return row, err
}

func (b *fakeBackend) update(id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["update"]++
	if b.updateErr != nil {
		return contracts.Prayer{}, b.updateErr
	}
	row, ok := b.rows[id]
	if !ok {
		return contracts.Prayer{}, ErrNotFound
	}
	if patch.AmeenCount != nil {
		row.AmeenCount = *patch.AmeenCount
	}
	if patch.IsPublished != nil {
		row.IsPublished = *patch.IsPublished
	}
	row.Version++
	b.rows[id] = row
	b.committed = append(b.committed, row)
	return row, nil
}

func (b *fakeBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["delete"]++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.rows[id]; !ok {
		return ErrNotFound
	}
	delete(b.rows, id)
	return nil
}

func (b *fakeBackend) Subscribe(_ context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["subscribe"]++
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	sub := newFakeSubscription()
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *fakeBackend) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) subscription(i int) *fakeSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.subs) {
		return nil
	}
	return b.subs[i]
}

func (b *fakeBackend) putRow(row contracts.Prayer) {
	b.mu.Lock()
	b.rows[row.ID] = row
	b.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 2, 10, hour, minute, 0, 0, time.UTC)
}

func prayer(id string, created time.Time, published bool, ameen int) contracts.Prayer {
	return contracts.Prayer{ID: id, Content: "prayer " + id, AmeenCount: ameen, IsPublished: published, CreatedAt: created}
}

func ids(rows []contracts.Prayer) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.ID
	}
	return out
}
