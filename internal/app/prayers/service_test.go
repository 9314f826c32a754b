package prayers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/sharding"
	"github.com/rs/zerolog"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]contracts.Prayer
	err  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]contracts.Prayer{}}
}

func (f *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (f *fakeRepo) List(_ context.Context, publishedOnly bool) ([]contracts.Prayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]contracts.Prayer, 0, len(f.rows))
	for _, p := range f.rows {
		if publishedOnly && !p.IsPublished {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeRepo) Insert(_ context.Context, p contracts.Prayer) (contracts.Prayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return contracts.Prayer{}, f.err
	}
	p.Version = 1
	f.rows[p.ID] = p
	return p, nil
}

func (f *fakeRepo) Update(_ context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return contracts.Prayer{}, f.err
	}
	p, ok := f.rows[id]
	if !ok {
		return contracts.Prayer{}, ErrPrayerNotFound
	}
	if patch.AmeenCount != nil {
		p.AmeenCount = *patch.AmeenCount
	}
	if patch.IsPublished != nil {
		p.IsPublished = *patch.IsPublished
	}
	p.Version++
	f.rows[id] = p
	return p, nil
}

func (f *fakeRepo) Delete(_ context.Context, id string) (contracts.Prayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return contracts.Prayer{}, f.err
	}
	p, ok := f.rows[id]
	if !ok {
		return contracts.Prayer{}, ErrPrayerNotFound
	}
	delete(f.rows, id)
	return p, nil
}

type published struct {
	subject string
	msgID   string
	event   contracts.ChangeEvent
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
	err  error
	// failures fails that many publishes before err is consulted.
	failures int
}

func (r *recorder) publish(subject string, payload []byte, msgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("nats: no responders available for request")
	}
	if r.err != nil {
		return r.err
	}
	var ev contracts.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	r.msgs = append(r.msgs, published{subject: subject, msgID: msgID, event: ev})
	return nil
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recorder) snapshot() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

func waitForMarker(t *testing.T, rec *recorder) published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range rec.snapshot() {
			if msg.event.Type == contracts.EventResync {
				return msg
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a resync marker")
	return published{}
}

func newTestService(repo Repository, rec *recorder) *Service {
	svc := NewService(repo, rec.publish, zerolog.Nop())
	svc.ResyncRetryMin = time.Millisecond
	svc.ResyncRetryMax = 5 * time.Millisecond
	ids := 0
	svc.NewID = func() string {
		ids++
		return "prayer-" + string(rune('a'+ids-1))
	}
	events := 0
	svc.NewEventID = func() string {
		events++
		return "evt-" + string(rune('0'+events))
	}
	clock := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func TestCreate_NormalizesAndPublishesInsert(t *testing.T) {
	repo := newFakeRepo()
	rec := &recorder{}
	svc := newTestService(repo, rec)

	row, err := svc.Create(context.Background(), "  Ya Allah, grant us patience \n")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if row.ID != "prayer-a" || row.Content != "Ya Allah, grant us patience" || !row.IsPublished || row.AmeenCount != 0 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if len(rec.msgs) != 1 {
		t.Fatalf("expected one published event, got %d", len(rec.msgs))
	}
	msg := rec.msgs[0]
	if msg.subject != sharding.EventSubject("prayer-a") {
		t.Fatalf("unexpected subject %q", msg.subject)
	}
	if msg.msgID != "evt-1" || msg.event.EventID != "evt-1" {
		t.Fatalf("msg id and event id should match: %q %q", msg.msgID, msg.event.EventID)
	}
	if msg.event.Type != contracts.EventInsert || msg.event.New == nil || msg.event.New.ID != "prayer-a" {
		t.Fatalf("unexpected event: %+v", msg.event)
	}
}

func TestCreate_RejectsInvalidContent(t *testing.T) {
	repo := newFakeRepo()
	rec := &recorder{}
	svc := newTestService(repo, rec)

	for _, content := range []string{"", "    ", strings.Repeat("a", contracts.MaxContentLength+1)} {
		if _, err := svc.Create(context.Background(), content); !errors.Is(err, ErrInvalidContent) {
			t.Fatalf("expected ErrInvalidContent, got %v", err)
		}
	}
	if len(repo.rows) != 0 || len(rec.msgs) != 0 {
		t.Fatal("invalid content must not be stored or published")
	}
}

func TestCreate_PublishFailureStillReturnsRow(t *testing.T) {
	repo := newFakeRepo()
	rec := &recorder{err: errors.New("nats: timeout")}
	svc := newTestService(repo, rec)

	row, err := svc.Create(context.Background(), "hello")
	if err != nil {
		t.Fatalf("committed write should succeed, got %v", err)
	}
	if _, ok := repo.rows[row.ID]; !ok {
		t.Fatal("row should be stored")
	}

	// Once the stream is back, viewers are told to reload.
	rec.setErr(nil)
	marker := waitForMarker(t, rec)
	if marker.subject != sharding.ResyncSubject() || marker.msgID == "" {
		t.Fatalf("unexpected marker %+v", marker)
	}
}

func TestUpdate_PublishFailureIsFollowedByOneResyncMarker(t *testing.T) {
	repo := newFakeRepo()
	rec := &recorder{}
	svc := newTestService(repo, rec)

	row, err := svc.Create(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// The update event and the first marker attempt are both lost.
	rec.mu.Lock()
	rec.failures = 2
	rec.mu.Unlock()
	count := 1
	updated, err := svc.Update(context.Background(), row.ID, contracts.PrayerPatch{AmeenCount: &count})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	waitForMarker(t, rec)
	waitFor(t, "resync loop to finish", func() bool { return !svc.resyncRunning.Load() })

	var markers int
	for _, msg := range rec.snapshot() {
		if msg.event.Type == contracts.EventUpdate {
			t.Fatalf("lost update must not be published later: %+v", msg.event)
		}
		if msg.event.Type == contracts.EventResync {
			markers++
		}
	}
	if markers != 1 {
		t.Fatalf("expected one resync marker, got %d", markers)
	}
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

func TestUpdate_ValidatesPatch(t *testing.T) {
	svc := newTestService(newFakeRepo(), &recorder{})
	negative := -1
	hide := false

	cases := []struct {
		name  string
		id    string
		patch contracts.PrayerPatch
		want  error
	}{
		{name: "missing id", id: " ", patch: contracts.PrayerPatch{IsPublished: &hide}, want: ErrPrayerIDRequired},
		{name: "empty patch", id: "p", want: ErrEmptyPatch},
		{name: "negative count", id: "p", patch: contracts.PrayerPatch{AmeenCount: &negative}, want: ErrNegativeAmeen},
		{name: "unknown id", id: "p", patch: contracts.PrayerPatch{IsPublished: &hide}, want: ErrPrayerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Update(context.Background(), tc.id, tc.patch); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestUpdateAndDelete_PublishOnTheSameSubject(t *testing.T) {
	repo := newFakeRepo()
	rec := &recorder{}
	svc := newTestService(repo, rec)

	row, _ := svc.Create(context.Background(), "hello")
	hide := false
	if _, err := svc.Update(context.Background(), row.ID, contracts.PrayerPatch{IsPublished: &hide}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := svc.Delete(context.Background(), row.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := svc.Delete(context.Background(), row.ID); !errors.Is(err, ErrPrayerNotFound) {
		t.Fatalf("second delete: expected ErrPrayerNotFound, got %v", err)
	}

	if len(rec.msgs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.msgs))
	}
	types := []string{contracts.EventInsert, contracts.EventUpdate, contracts.EventDelete}
	for i, msg := range rec.msgs {
		if msg.subject != rec.msgs[0].subject {
			t.Fatalf("event %d on %q, want %q", i, msg.subject, rec.msgs[0].subject)
		}
		if msg.event.Type != types[i] || msg.event.PrayerID() != row.ID {
			t.Fatalf("event %d: %+v", i, msg.event)
		}
	}
	if rec.msgs[1].event.New.IsPublished {
		t.Fatal("update event should carry the new row")
	}
	if rec.msgs[2].event.Old == nil || rec.msgs[2].event.Old.Content != "hello" {
		t.Fatalf("delete event should carry the old row: %+v", rec.msgs[2].event)
	}
}
