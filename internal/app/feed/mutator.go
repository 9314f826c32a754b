package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/platform/auth"
)

// Mutator issues user actions against the backend and reflects each confirmed
// result locally. Nothing is reflected when the backend call fails.
type Mutator struct {
	Backend Backend
	Reflect func(contracts.ChangeEvent)
	Now     func() time.Time
}

func NewMutator(backend Backend, reflect func(contracts.ChangeEvent)) *Mutator {
	return &Mutator{
		Backend: backend,
		Reflect: reflect,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// SubmitPrayer validates locally, inserts, and shows the confirmed row right away.
// The echoed INSERT from the change stream merges into it by id.
func (m *Mutator) SubmitPrayer(ctx context.Context, content string) (contracts.Prayer, error) {
	normalized, err := contracts.NormalizeContent(content)
	if err != nil {
		mutations.WithLabelValues("submit", "invalid").Inc()
		return contracts.Prayer{}, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	row, err := m.Backend.Insert(ctx, normalized)
	mutations.WithLabelValues("submit", outcome(err)).Inc()
	if err != nil {
		return contracts.Prayer{}, unavailable("insert", err)
	}
	m.reflect(contracts.EventInsert, &row, nil)
	return row, nil
}

// RecordAmeen writes observedCount+1. Concurrent clients race last-writer-wins.
func (m *Mutator) RecordAmeen(ctx context.Context, id string, observedCount int) error {
	id = strings.TrimSpace(id)
	if id == "" || observedCount < 0 {
		mutations.WithLabelValues("ameen", "invalid").Inc()
		return fmt.Errorf("%w: prayer id and a non-negative count are required", ErrValidationFailed)
	}

	next := observedCount + 1
	row, err := m.Backend.Update(ctx, id, contracts.PrayerPatch{AmeenCount: &next})
	mutations.WithLabelValues("ameen", outcome(err)).Inc()
	if err != nil {
		return classify("update", err)
	}
	m.reflect(contracts.EventUpdate, &row, nil)
	return nil
}

func (m *Mutator) SetPublished(ctx context.Context, session auth.Session, id string, value bool) error {
	if !session.IsAdmin() {
		return ErrAdminRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: prayer id is required", ErrValidationFailed)
	}

	row, err := m.Backend.Update(ctx, id, contracts.PrayerPatch{IsPublished: &value})
	mutations.WithLabelValues("publish", outcome(err)).Inc()
	if err != nil {
		return classify("update", err)
	}
	m.reflect(contracts.EventUpdate, &row, nil)
	return nil
}

// DeletePrayer is permanent. A prayer already removed by someone else counts as deleted.
func (m *Mutator) DeletePrayer(ctx context.Context, session auth.Session, id string, confirmed bool) error {
	if !session.IsAdmin() {
		return ErrAdminRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: prayer id is required", ErrValidationFailed)
	}
	if !confirmed {
		return ErrConfirmationRequired
	}

	err := m.Backend.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		mutations.WithLabelValues("delete", "error").Inc()
		return unavailable("delete", err)
	}
	mutations.WithLabelValues("delete", "ok").Inc()
	m.reflect(contracts.EventDelete, nil, &contracts.Prayer{ID: id})
	return nil
}

func (m *Mutator) reflect(eventType string, newRow, oldRow *contracts.Prayer) {
	if m.Reflect == nil {
		return
	}
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}
	m.Reflect(contracts.ChangeEvent{Type: eventType, New: newRow, Old: oldRow, OccurredAt: now})
}
