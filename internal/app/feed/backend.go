package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/duashare/project/internal/contracts"
)

var (
	ErrValidationFailed     = errors.New("validation failed")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrNotFound             = errors.New("prayer no longer exists")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrAdminRequired        = errors.New("admin session required")
)

// Backend is the row store plus change stream a feed is reconciled against.
// Implementations return ErrNotFound when a mutation targets a missing row.
type Backend interface {
	List(ctx context.Context, filter Filter) ([]contracts.Prayer, error)
	Insert(ctx context.Context, content string) (contracts.Prayer, error)
	Update(ctx context.Context, id string, patch contracts.PrayerPatch) (contracts.Prayer, error)
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers change events until Broken is closed. After a break
// events may have been lost and the view has to be rebuilt from a snapshot.
type Subscription interface {
	Events() <-chan contracts.ChangeEvent
	Broken() <-chan struct{}
	Unsubscribe() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}

// classify keeps ErrNotFound and folds every other backend failure into ErrBackendUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return unavailable(op, err)
}
