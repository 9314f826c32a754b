// Package auditlog records every committed prayer change from the change
// stream so moderators can see how a prayer got to its current state.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/duashare/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnsupportedEventType = errors.New("unsupported event type")
var ErrPrayerIDRequired = errors.New("prayer id is required")

var errResyncMarker = errors.New("resync marker")

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type Repository interface {
	EnsureSchema(ctx context.Context) error
	InsertEntry(ctx context.Context, entry contracts.AuditEntry) error
	History(ctx context.Context, prayerID string, limit int) ([]contracts.AuditEntry, error)
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

// Handle records one change event. Replays of the same event id are no-ops.
func (s *Service) Handle(ctx context.Context, payload []byte, streamSeq uint64) error {
	entry, err := decodeEntry(payload, streamSeq)
	if errors.Is(err, errResyncMarker) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Repository.InsertEntry(ctx, entry)
}

// History returns the recorded changes of a prayer, oldest first.
func (s *Service) History(ctx context.Context, prayerID string, limit int) ([]contracts.AuditEntry, error) {
	prayerID = strings.TrimSpace(prayerID)
	if prayerID == "" {
		return nil, ErrPrayerIDRequired
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.Repository.History(ctx, prayerID, limit)
}

func decodeEntry(payload []byte, streamSeq uint64) (contracts.AuditEntry, error) {
	var event contracts.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return contracts.AuditEntry{}, ErrInvalidEventPayload
	}
	if event.Type == contracts.EventResync {
		return contracts.AuditEntry{}, errResyncMarker
	}
	if strings.TrimSpace(event.EventID) == "" || event.PrayerID() == "" {
		return contracts.AuditEntry{}, ErrInvalidEventPayload
	}

	var row *contracts.Prayer
	switch event.Type {
	case contracts.EventInsert, contracts.EventUpdate:
		row = event.New
	case contracts.EventDelete:
		row = event.Old
	default:
		return contracts.AuditEntry{}, ErrUnsupportedEventType
	}
	if row == nil {
		return contracts.AuditEntry{}, ErrInvalidEventPayload
	}

	return contracts.AuditEntry{
		EventID:     event.EventID,
		StreamSeq:   streamSeq,
		PrayerID:    row.ID,
		Type:        event.Type,
		AmeenCount:  row.AmeenCount,
		IsPublished: row.IsPublished,
		OccurredAt:  event.OccurredAt.UTC(),
	}, nil
}
