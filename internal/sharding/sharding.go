package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of change-stream partitions.
const ShardCount = 1024

// EventSubjectPrefix is the root of every prayer change subject.
const EventSubjectPrefix = "app.prayer.event"

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// EventSubject returns the change subject for a prayer.
// Format: app.prayer.event.{shard_id}.{prayer_id}
// All changes to one prayer share a subject, so the stream keeps them in commit order.
func EventSubject(prayerID string) string {
	return fmt.Sprintf("%s.%d.%s", EventSubjectPrefix, GetShardID(prayerID), prayerID)
}

// AllEvents matches every prayer change subject.
func AllEvents() string {
	return EventSubjectPrefix + ".>"
}

// ResyncSubject carries resync markers. It sits under the change subject root,
// so every change stream subscriber receives it too.
func ResyncSubject() string {
	return EventSubjectPrefix + ".resync"
}
