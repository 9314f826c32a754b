package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/duashare/project/internal/app/feed"
	"github.com/duashare/project/internal/app/prayers"
	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/sharding"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type memoryRepo struct {
	rows map[string]contracts.Prayer
}

func (m *memoryRepo) EnsureSchema(context.Context) error { return nil }

func (m *memoryRepo) List(_ context.Context, publishedOnly bool) ([]contracts.Prayer, error) {
	out := []contracts.Prayer{}
	for _, p := range m.rows {
		if !publishedOnly || p.IsPublished {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRepo) Insert(_ context.Context, p contracts.Prayer) (contracts.Prayer, error) {
	m.rows[p.ID] = p
	return p, nil
}

func (m *memoryRepo) Update(_ context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	p, ok := m.rows[id]
	if !ok {
		return contracts.Prayer{}, prayers.ErrPrayerNotFound
	}
	if patch.IsPublished != nil {
		p.IsPublished = *patch.IsPublished
	}
	if patch.AmeenCount != nil {
		p.AmeenCount = *patch.AmeenCount
	}
	m.rows[id] = p
	return p, nil
}

func (m *memoryRepo) Delete(_ context.Context, id string) (contracts.Prayer, error) {
	p, ok := m.rows[id]
	if !ok {
		return contracts.Prayer{}, prayers.ErrPrayerNotFound
	}
	delete(m.rows, id)
	return p, nil
}

type fakeJS struct {
	subject string
	cb      nats.MsgHandler
	err     error
}

func (f *fakeJS) Subscribe(subj string, cb nats.MsgHandler, _ ...nats.SubOpt) (*nats.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subj
	f.cb = cb
	return nil, nil
}

func newTestClient(js Subscriber) (*Client, *memoryRepo) {
	repo := &memoryRepo{rows: map[string]contracts.Prayer{
		"a": {ID: "a", Content: "visible", IsPublished: true},
		"h": {ID: "h", Content: "hidden"},
	}}
	svc := prayers.NewService(repo, nil, zerolog.Nop())
	return NewClient(svc, js, zerolog.Nop()), repo
}

func encode(t *testing.T, ev contracts.ChangeEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestClient_ListHonoursFilter(t *testing.T) {
	c, _ := newTestClient(&fakeJS{})

	public, err := c.List(context.Background(), feed.PublicFilter)
	if err != nil || len(public) != 1 || public[0].ID != "a" {
		t.Fatalf("public list: %v %v", public, err)
	}
	admin, err := c.List(context.Background(), feed.AdminFilter)
	if err != nil || len(admin) != 2 {
		t.Fatalf("admin list: %v %v", admin, err)
	}
}

func TestClient_TranslatesErrors(t *testing.T) {
	c, _ := newTestClient(&fakeJS{})
	yes := true

	if _, err := c.Update(context.Background(), "gone", contracts.PrayerPatch{IsPublished: &yes}); !errors.Is(err, feed.ErrNotFound) {
		t.Fatalf("expected feed.ErrNotFound, got %v", err)
	}
	if err := c.Delete(context.Background(), "gone"); !errors.Is(err, feed.ErrNotFound) {
		t.Fatalf("expected feed.ErrNotFound, got %v", err)
	}
	if _, err := c.Insert(context.Background(), "  "); !errors.Is(err, feed.ErrValidationFailed) {
		t.Fatalf("expected feed.ErrValidationFailed, got %v", err)
	}
	if _, err := c.Update(context.Background(), "a", contracts.PrayerPatch{}); !errors.Is(err, feed.ErrValidationFailed) {
		t.Fatalf("expected feed.ErrValidationFailed, got %v", err)
	}
}

func TestClient_SubscribeDeliversSequencedEvents(t *testing.T) {
	js := &fakeJS{}
	c, _ := newTestClient(js)

	sub, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Unsubscribe()

	if js.subject != "app.prayer.event.>" {
		t.Fatalf("unexpected subject %q", js.subject)
	}

	row := contracts.Prayer{ID: "n1", Content: "new", IsPublished: true}
	js.cb(&nats.Msg{Subject: "app.prayer.event.1.n1", Data: encode(t, contracts.ChangeEvent{Type: contracts.EventInsert, New: &row})})
	js.cb(&nats.Msg{Subject: "app.prayer.event.1.n1", Data: []byte("not json")})

	select {
	case ev := <-sub.Events():
		if ev.PrayerID() != "n1" || ev.Type != contracts.EventInsert {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a delivered event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("undecodable message should be dropped, got %+v", ev)
	default:
	}
}

func TestClient_ResyncMarkerBreaksSubscription(t *testing.T) {
	js := &fakeJS{}
	c, _ := newTestClient(js)

	sub, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Unsubscribe()

	js.cb(&nats.Msg{Subject: sharding.ResyncSubject(), Data: encode(t, contracts.ChangeEvent{EventID: "m1", Type: contracts.EventResync})})

	select {
	case <-sub.Broken():
	case <-time.After(time.Second):
		t.Fatal("a resync marker should break the subscription")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("marker must not be delivered as a change, got %+v", ev)
	default:
	}
}

func TestClient_SubscribeFailure(t *testing.T) {
	c, _ := newTestClient(&fakeJS{err: nats.ErrConnectionClosed})
	if _, err := c.Subscribe(context.Background()); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestClient_ReconnectBreaksSubscription(t *testing.T) {
	reconnected := make(chan struct{}, 1)
	stopped := make(chan struct{})
	c, _ := newTestClient(&fakeJS{})
	c.Reconnects = func() (<-chan struct{}, func()) {
		return reconnected, func() { close(stopped) }
	}

	sub, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	reconnected <- struct{}{}

	select {
	case <-sub.Broken():
	case <-time.After(time.Second):
		t.Fatal("reconnect should break the subscription")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe returned error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe returned error: %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Fatal("reconnect listener should be released")
	}
}

func TestStream_OverflowBreaks(t *testing.T) {
	s := newStream(2, zerolog.Nop())
	ev := contracts.ChangeEvent{Type: contracts.EventDelete, Old: &contracts.Prayer{ID: "x"}}

	s.deliver(ev)
	s.deliver(ev)
	select {
	case <-s.Broken():
		t.Fatal("stream should not break before the buffer is full")
	default:
	}

	s.deliver(ev)
	select {
	case <-s.Broken():
	default:
		t.Fatal("overflow should break the stream")
	}
}

func TestDecodeEvent(t *testing.T) {
	row := contracts.Prayer{ID: "p"}
	cases := []struct {
		name    string
		ev      contracts.ChangeEvent
		wantErr bool
	}{
		{name: "insert", ev: contracts.ChangeEvent{Type: contracts.EventInsert, New: &row}},
		{name: "delete", ev: contracts.ChangeEvent{Type: contracts.EventDelete, Old: &row}},
		{name: "unknown type", ev: contracts.ChangeEvent{Type: "TRUNCATE", New: &row}, wantErr: true},
		{name: "no id", ev: contracts.ChangeEvent{Type: contracts.EventUpdate}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeEvent(encode(t, tc.ev), 42)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Seq != 42 || got.PrayerID() != "p" {
				t.Fatalf("unexpected event %+v", got)
			}
		})
	}
}
