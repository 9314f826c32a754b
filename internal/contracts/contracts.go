package contracts

import "time"

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	// EventResync carries no row. Views receiving it reload from a snapshot.
	EventResync = "RESYNC"
)

// Prayer is the row shape shared by the prayers backend, the change stream and the feed views.
type Prayer struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	AmeenCount  int       `json:"ameen_count"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`

	// Version starts at 1 and grows by one with every committed update.
	Version int64 `json:"version"`
}

// PrayerPatch is a partial update. Nil fields are left unchanged.
type PrayerPatch struct {
	AmeenCount  *int  `json:"ameen_count,omitempty"`
	IsPublished *bool `json:"is_published,omitempty"`
}

// ChangeEvent is published by the prayers service after every committed write and consumed by feed views.
type ChangeEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	New        *Prayer   `json:"new,omitempty"`
	Old        *Prayer   `json:"old,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// Seq is the stream sequence assigned on delivery. Zero for locally reflected mutations.
	Seq uint64 `json:"-"`
}

// PrayerID returns the id the event targets.
func (e ChangeEvent) PrayerID() string {
	if e.New != nil && e.New.ID != "" {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

// AuditEntry is one recorded change to a prayer, kept by the audit sink.
type AuditEntry struct {
	EventID     string    `json:"event_id"`
	StreamSeq   uint64    `json:"stream_seq"`
	PrayerID    string    `json:"prayer_id"`
	Type        string    `json:"type"`
	AmeenCount  int       `json:"ameen_count"`
	IsPublished bool      `json:"is_published"`
	OccurredAt  time.Time `json:"occurred_at"`
}
