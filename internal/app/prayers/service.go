package prayers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/sharding"
	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidContent   = errors.New("invalid prayer content")
	ErrPrayerIDRequired = errors.New("prayer id is required")
	ErrEmptyPatch       = errors.New("patch has no fields")
	ErrNegativeAmeen    = errors.New("ameen_count must not be negative")
)

type PublishFunc func(subject string, payload []byte, msgID string) error

// Service owns prayer rows. Every committed write is followed by a change
// event on the prayer's subject. When that publish fails, a resync marker
// follows once the stream accepts writes again.
type Service struct {
	Repo       Repository
	Publish    PublishFunc
	Logger     zerolog.Logger
	Now        func() time.Time
	NewID      func() string
	NewEventID func() string

	ResyncRetryMin time.Duration
	ResyncRetryMax time.Duration

	resyncDirty   atomic.Bool
	resyncRunning atomic.Bool
}

func NewService(repo Repository, publish PublishFunc, logger zerolog.Logger) *Service {
	return &Service{
		Repo:       repo,
		Publish:    publish,
		Logger:     logger,
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
		NewEventID: nuid.Next,

		ResyncRetryMin: 250 * time.Millisecond,
		ResyncRetryMax: 10 * time.Second,
	}
}

func (s *Service) List(ctx context.Context, publishedOnly bool) ([]contracts.Prayer, error) {
	return s.Repo.List(ctx, publishedOnly)
}

// Create stores a new published prayer with a zero count.
func (s *Service) Create(ctx context.Context, content string) (contracts.Prayer, error) {
	normalized, err := contracts.NormalizeContent(content)
	if err != nil {
		return contracts.Prayer{}, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	row, err := s.Repo.Insert(ctx, contracts.Prayer{
		ID:          s.NewID(),
		Content:     normalized,
		IsPublished: true,
		// Postgres keeps microseconds; truncate so the returned row matches later reads.
		CreatedAt: s.Now().Truncate(time.Microsecond),
	})
	if err != nil {
		return contracts.Prayer{}, err
	}
	s.emit(contracts.ChangeEvent{Type: contracts.EventInsert, New: &row})
	return row, nil
}

// Update applies a partial patch. The write is last-writer-wins; each one
// bumps the row version so readers can order events for the same prayer.
func (s *Service) Update(ctx context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return contracts.Prayer{}, ErrPrayerIDRequired
	}
	if patch.AmeenCount == nil && patch.IsPublished == nil {
		return contracts.Prayer{}, ErrEmptyPatch
	}
	if patch.AmeenCount != nil && *patch.AmeenCount < 0 {
		return contracts.Prayer{}, ErrNegativeAmeen
	}

	row, err := s.Repo.Update(ctx, id, patch)
	if err != nil {
		return contracts.Prayer{}, err
	}
	s.emit(contracts.ChangeEvent{Type: contracts.EventUpdate, New: &row})
	return row, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrPrayerIDRequired
	}

	old, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.emit(contracts.ChangeEvent{Type: contracts.EventDelete, Old: &old})
	return nil
}

// emit publishes after commit. The row is already durable, so a failed
// publish only schedules a resync marker.
func (s *Service) emit(ev contracts.ChangeEvent) {
	if s.Publish == nil {
		return
	}
	ev.EventID = s.NewEventID()
	ev.OccurredAt = s.Now()

	logger := s.Logger.With().Str("prayer_id", ev.PrayerID()).Str("type", ev.Type).Logger()
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Msg("encode change event")
		return
	}
	if err := s.Publish(sharding.EventSubject(ev.PrayerID()), payload, ev.EventID); err != nil {
		logger.Error().Err(err).Msg("publish change event")
		s.requestResync()
		return
	}
	logger.Debug().Str("event_id", ev.EventID).Msg("change event published")
}

// requestResync makes sure a resync marker is published after the current
// call. Markers are retried with backoff until one is accepted.
func (s *Service) requestResync() {
	s.resyncDirty.Store(true)
	if s.resyncRunning.CompareAndSwap(false, true) {
		go s.resyncLoop()
	}
}

func (s *Service) resyncLoop() {
	for {
		for s.resyncDirty.Swap(false) {
			s.publishResync()
		}
		s.resyncRunning.Store(false)
		// A failure may have raced the store above; pick it up if nobody else did.
		if !s.resyncDirty.Load() || !s.resyncRunning.CompareAndSwap(false, true) {
			return
		}
	}
}

func (s *Service) publishResync() {
	backoff := max(s.ResyncRetryMin, time.Millisecond)
	for attempt := 1; ; attempt++ {
		ev := contracts.ChangeEvent{EventID: s.NewEventID(), Type: contracts.EventResync, OccurredAt: s.Now()}
		payload, err := json.Marshal(ev)
		if err == nil {
			err = s.Publish(sharding.ResyncSubject(), payload, ev.EventID)
		}
		if err == nil {
			s.Logger.Info().Int("attempt", attempt).Msg("resync marker published")
			return
		}
		s.Logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("publish resync marker")
		time.Sleep(backoff)
		backoff = min(backoff*2, max(s.ResyncRetryMax, backoff))
	}
}
