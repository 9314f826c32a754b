// Package feedstream serves live feed views to browsers. One Reconciler runs
// per view while at least one viewer is connected.
package feedstream

import (
	"context"
	"sync"

	"github.com/duashare/project/internal/app/feed"
	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/platform/metrics"
	"github.com/rs/zerolog"
)

var (
	activeViews = metrics.NewGaugeVec(metrics.Opts{
		Name: "duashare_feed_active_views",
		Help: "Feed views with a running reconciler.",
	}, []string{"view"})
	connectedViewers = metrics.NewGaugeVec(metrics.Opts{
		Name: "duashare_feed_viewers",
		Help: "Connected SSE viewers per view.",
	}, []string{"view"})
)

func init() {
	metrics.Default.MustRegister(activeViews, connectedViewers)
}

type Registry struct {
	Backend feed.Backend
	Logger  zerolog.Logger
	// NewReconciler builds the reconciler for a newly mounted view.
	NewReconciler func(feed.Filter) *feed.Reconciler

	mu    sync.Mutex
	views map[feed.Filter]*liveView
}

type liveView struct {
	rec     *feed.Reconciler
	cancel  context.CancelFunc
	done    chan struct{}
	viewers int
}

func NewRegistry(backend feed.Backend, logger zerolog.Logger) *Registry {
	r := &Registry{
		Backend: backend,
		Logger:  logger,
		views:   map[feed.Filter]*liveView{},
	}
	r.NewReconciler = func(filter feed.Filter) *feed.Reconciler {
		return feed.NewReconciler(r.Backend, filter, r.Logger)
	}
	return r
}

// Acquire mounts the view for filter, starting its reconciler on first use.
// The returned release func unmounts it; the last release stops the
// reconciler and drops its subscription.
func (r *Registry) Acquire(filter feed.Filter) (*feed.Reconciler, func()) {
	r.mu.Lock()
	lv, ok := r.views[filter]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		lv = &liveView{
			rec:    r.NewReconciler(filter),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		r.views[filter] = lv
		activeViews.Add(1, filter.String())
		go func() {
			defer close(lv.done)
			if err := lv.rec.Run(ctx); err != nil {
				r.Logger.Error().Err(err).Str("view", filter.String()).Msg("feed reconciler stopped")
			}
		}()
		r.Logger.Debug().Str("view", filter.String()).Msg("feed view mounted")
	}
	lv.viewers++
	connectedViewers.Add(1, filter.String())
	r.mu.Unlock()

	var once sync.Once
	return lv.rec, func() {
		once.Do(func() { r.release(filter, lv) })
	}
}

func (r *Registry) release(filter feed.Filter, lv *liveView) {
	r.mu.Lock()
	lv.viewers--
	connectedViewers.Add(-1, filter.String())
	last := lv.viewers == 0
	if last {
		if current, ok := r.views[filter]; ok && current == lv {
			delete(r.views, filter)
			activeViews.Add(-1, filter.String())
		}
	}
	r.mu.Unlock()

	if last {
		lv.cancel()
		<-lv.done
		r.Logger.Debug().Str("view", filter.String()).Msg("feed view unmounted")
	}
}

// Active reports whether a reconciler is running for filter.
func (r *Registry) Active(filter feed.Filter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.views[filter]
	return ok
}

// Reflect applies a locally confirmed mutation to every mounted view.
func (r *Registry) Reflect(ev contracts.ChangeEvent) {
	r.mu.Lock()
	recs := make([]*feed.Reconciler, 0, len(r.views))
	for _, lv := range r.views {
		recs = append(recs, lv.rec)
	}
	r.mu.Unlock()

	for _, rec := range recs {
		rec.Apply(ev)
	}
}

// Mutator returns a feed.Mutator whose results show up in every mounted view.
func (r *Registry) Mutator() *feed.Mutator {
	return feed.NewMutator(r.Backend, r.Reflect)
}

// Close stops every reconciler regardless of connected viewers.
func (r *Registry) Close() {
	r.mu.Lock()
	views := r.views
	r.views = map[feed.Filter]*liveView{}
	r.mu.Unlock()

	for filter, lv := range views {
		lv.cancel()
		<-lv.done
		activeViews.Add(-1, filter.String())
	}
}
