package messaging

import (
	"errors"
	"time"

	"github.com/duashare/project/internal/sharding"
	"github.com/nats-io/nats.go"
)

const (
	PrayerEventsStream = "PRAYER_EVENTS"

	// duplicateWindow bounds JetStream's Nats-Msg-Id deduplication.
	duplicateWindow = 2 * time.Minute
)

// EnsureStreams creates (or validates) the change stream for prayer rows:
// - app.prayer.event.>
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(PrayerEventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		_, addErr := js.AddStream(&nats.StreamConfig{
			Name:       PrayerEventsStream,
			Subjects:   []string{sharding.AllEvents()},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			MaxAge:     24 * time.Hour,
			Duplicates: duplicateWindow,
		})
		return addErr
	}
	return nil
}
