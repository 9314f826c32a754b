// Package backend connects feed views to the prayers store and the JetStream
// change stream.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/duashare/project/internal/app/feed"
	"github.com/duashare/project/internal/app/prayers"
	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/sharding"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const defaultBuffer = 256

// Subscriber is the part of nats.JetStreamContext used for change delivery.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Client implements feed.Backend on top of prayers.Service for rows and a
// JetStream push subscription for change events.
type Client struct {
	Service *prayers.Service
	JS      Subscriber
	// Reconnects, when set, reports NATS reconnects. Push deliveries can be
	// lost across a reconnect, so each one breaks open subscriptions.
	Reconnects func() (<-chan struct{}, func())
	Logger     zerolog.Logger
	Buffer     int
}

func NewClient(service *prayers.Service, js Subscriber, logger zerolog.Logger) *Client {
	return &Client{
		Service: service,
		JS:      js,
		Logger:  logger,
		Buffer:  defaultBuffer,
	}
}

var _ feed.Backend = (*Client)(nil)

func (c *Client) List(ctx context.Context, filter feed.Filter) ([]contracts.Prayer, error) {
	return c.Service.List(ctx, filter.PublishedOnly)
}

func (c *Client) Insert(ctx context.Context, content string) (contracts.Prayer, error) {
	row, err := c.Service.Create(ctx, content)
	return row, translate(err)
}

func (c *Client) Update(ctx context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	row, err := c.Service.Update(ctx, id, patch)
	return row, translate(err)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return translate(c.Service.Delete(ctx, id))
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, prayers.ErrPrayerNotFound):
		return fmt.Errorf("%w: %v", feed.ErrNotFound, err)
	case errors.Is(err, prayers.ErrInvalidContent), errors.Is(err, prayers.ErrPrayerIDRequired),
		errors.Is(err, prayers.ErrEmptyPatch), errors.Is(err, prayers.ErrNegativeAmeen):
		return fmt.Errorf("%w: %w", feed.ErrValidationFailed, err)
	default:
		return err
	}
}

// Subscribe starts a push subscription on every prayer subject, delivering
// only messages published from now on.
func (c *Client) Subscribe(ctx context.Context) (feed.Subscription, error) {
	if c.JS == nil {
		return nil, errors.New("jetstream is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buffer := c.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	s := newStream(buffer, c.Logger)
	sub, err := c.JS.Subscribe(sharding.AllEvents(), s.handle, nats.DeliverNew())
	if err != nil {
		return nil, err
	}
	s.sub = sub

	if c.Reconnects != nil {
		reconnected, stop := c.Reconnects()
		s.stopWatch = stop
		go func() {
			select {
			case <-reconnected:
				s.breakWith("nats reconnected")
			case <-s.done:
			}
		}()
	}
	return s, nil
}

// stream adapts one nats.Subscription to feed.Subscription.
type stream struct {
	events chan contracts.ChangeEvent
	broken chan struct{}
	done   chan struct{}
	logger zerolog.Logger

	sub       *nats.Subscription
	stopWatch func()

	breakOnce sync.Once
	doneOnce  sync.Once
}

func newStream(buffer int, logger zerolog.Logger) *stream {
	return &stream{
		events: make(chan contracts.ChangeEvent, buffer),
		broken: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (s *stream) Events() <-chan contracts.ChangeEvent { return s.events }
func (s *stream) Broken() <-chan struct{}              { return s.broken }

func (s *stream) Unsubscribe() error {
	var err error
	s.doneOnce.Do(func() {
		close(s.done)
		if s.stopWatch != nil {
			s.stopWatch()
		}
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
	})
	return err
}

func (s *stream) handle(msg *nats.Msg) {
	var seq uint64
	if meta, err := msg.Metadata(); err == nil {
		seq = meta.Sequence.Stream
	}
	ev, err := decodeEvent(msg.Data, seq)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping undecodable change event")
		return
	}
	if ev.Type == contracts.EventResync {
		s.breakWith("resync requested")
		return
	}
	s.deliver(ev)
}

// deliver never blocks the NATS dispatcher. A full buffer means the view fell
// behind; the stream is declared broken so the view reloads.
func (s *stream) deliver(ev contracts.ChangeEvent) {
	select {
	case <-s.done:
		return
	case <-s.broken:
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.breakWith("event buffer overflow")
	}
}

func (s *stream) breakWith(reason string) {
	s.breakOnce.Do(func() {
		s.logger.Warn().Str("reason", reason).Msg("change stream broken")
		close(s.broken)
	})
}

func decodeEvent(data []byte, seq uint64) (contracts.ChangeEvent, error) {
	var ev contracts.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return contracts.ChangeEvent{}, err
	}
	switch ev.Type {
	case contracts.EventResync:
		return ev, nil
	case contracts.EventInsert, contracts.EventUpdate, contracts.EventDelete:
	default:
		return contracts.ChangeEvent{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.PrayerID() == "" {
		return contracts.ChangeEvent{}, errors.New("change event without prayer id")
	}
	ev.Seq = seq
	return ev, nil
}
