package feed

import "github.com/duashare/project/internal/platform/metrics"

var (
	eventsApplied = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_feed_events_total",
		Help: "Change events seen by feed views, by outcome.",
	}, []string{"view", "type", "outcome"})
	snapshots = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_feed_snapshots_total",
		Help: "Snapshot loads by outcome.",
	}, []string{"view", "outcome"})
	resyncs = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_feed_resyncs_total",
		Help: "Subscription restarts after a broken change stream.",
	}, []string{"view"})
	mutations = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_feed_mutations_total",
		Help: "Local mutations by operation and outcome.",
	}, []string{"op", "outcome"})
)

func init() {
	metrics.Default.MustRegister(eventsApplied, snapshots, resyncs, mutations)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
