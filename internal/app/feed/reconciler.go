package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/duashare/project/internal/contracts"
	"github.com/rs/zerolog"
)

var errSubscriptionBroken = errors.New("change stream subscription broken")

// Reconciler keeps one View consistent with a Backend. Snapshot loads, stream
// events and local mutations all go through the same mutex.
type Reconciler struct {
	Backend  Backend
	Logger   zerolog.Logger
	RetryMin time.Duration
	RetryMax time.Duration

	mu       sync.Mutex
	view     *View
	loaded   bool
	nextID   uint64
	watchers map[uint64]chan struct{}
}

func NewReconciler(backend Backend, filter Filter, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		Backend:  backend,
		Logger:   logger.With().Str("view", filter.String()).Logger(),
		RetryMin: 250 * time.Millisecond,
		RetryMax: 10 * time.Second,
		view:     NewView(filter),
		watchers: map[uint64]chan struct{}{},
	}
}

func (r *Reconciler) Filter() Filter {
	return r.view.Filter()
}

// Load fetches a snapshot and replaces the view in one step. On failure the
// previous content stays as it was.
func (r *Reconciler) Load(ctx context.Context) error {
	name := r.Filter().String()
	rows, err := r.Backend.List(ctx, r.Filter())
	if err != nil {
		snapshots.WithLabelValues(name, "error").Inc()
		return unavailable("list", err)
	}
	snapshots.WithLabelValues(name, "ok").Inc()

	r.mu.Lock()
	r.view.Replace(rows)
	r.loaded = true
	r.notifyLocked()
	r.mu.Unlock()
	return nil
}

// Apply folds a change event into the view and wakes watchers when it changed.
func (r *Reconciler) Apply(ev contracts.ChangeEvent) bool {
	r.mu.Lock()
	changed := r.view.Apply(ev)
	if changed {
		r.notifyLocked()
	}
	r.mu.Unlock()

	result := "noop"
	if changed {
		result = "applied"
	}
	eventsApplied.WithLabelValues(r.Filter().String(), ev.Type, result).Inc()
	return changed
}

// Snapshot returns the current ordered prayers.
func (r *Reconciler) Snapshot() []contracts.Prayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Items()
}

// Loaded reports whether at least one snapshot has been applied.
func (r *Reconciler) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Watch returns a re-render signal. Signals coalesce: a watcher that falls
// behind sees one pending signal and reads the latest Snapshot.
func (r *Reconciler) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.watchers[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) notifyLocked() {
	for _, ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Mutator returns a Mutator that reflects confirmed mutations into this view.
func (r *Reconciler) Mutator() *Mutator {
	return NewMutator(r.Backend, func(ev contracts.ChangeEvent) { r.Apply(ev) })
}

// Run subscribes, loads a snapshot and applies events until ctx is done.
// A broken subscription is released and the cycle starts over with backoff.
func (r *Reconciler) Run(ctx context.Context) error {
	backoff := r.RetryMin
	for {
		healthy, err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		resyncs.WithLabelValues(r.Filter().String()).Inc()
		if healthy {
			backoff = r.RetryMin
		}
		r.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("resubscribing to change stream")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.RetryMax)
	}
}

// runOnce holds one subscription. Events arriving while the snapshot loads
// wait in the subscription and are applied on top of it afterwards.
func (r *Reconciler) runOnce(ctx context.Context) (bool, error) {
	sub, err := r.Backend.Subscribe(ctx)
	if err != nil {
		return false, unavailable("subscribe", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.Logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}()

	if err := r.Load(ctx); err != nil {
		return false, err
	}
	r.Logger.Debug().Msg("feed view synchronised")

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-sub.Broken():
			return true, errSubscriptionBroken
		case ev, ok := <-sub.Events():
			if !ok {
				return true, errSubscriptionBroken
			}
			r.Apply(ev)
		}
	}
}
