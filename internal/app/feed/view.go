package feed

import (
	"slices"
	"strings"

	"github.com/duashare/project/internal/contracts"
)

// Filter selects which prayers belong to a view.
type Filter struct {
	PublishedOnly bool
}

var (
	PublicFilter = Filter{PublishedOnly: true}
	AdminFilter  = Filter{}
)

func (f Filter) Match(p contracts.Prayer) bool {
	return !f.PublishedOnly || p.IsPublished
}

func (f Filter) String() string {
	if f.PublishedOnly {
		return "public"
	}
	return "admin"
}

// View is an ordered, deduplicated set of prayers matching a filter.
// It is not safe for concurrent use; Reconciler serialises access.
type View struct {
	filter Filter
	items  []contracts.Prayer

	// versions is the newest row version seen per prayer id, from snapshots,
	// stream events and local reflections alike.
	versions map[string]int64
	// lastSeq is the newest stream sequence applied per id for rows without a version.
	lastSeq map[string]uint64
	// counts is the highest ameen count seen per id. Shown counts never go
	// down, even across snapshots.
	counts map[string]int
	// deleted ids never come back; deletes are permanent.
	deleted map[string]struct{}
}

func NewView(filter Filter) *View {
	return &View{
		filter:   filter,
		versions: map[string]int64{},
		lastSeq:  map[string]uint64{},
		counts:   map[string]int{},
		deleted:  map[string]struct{}{},
	}
}

func (v *View) Filter() Filter { return v.filter }

func (v *View) Len() int { return len(v.items) }

// Items returns a copy of the ordered prayers.
func (v *View) Items() []contracts.Prayer {
	return slices.Clone(v.items)
}

func (v *View) Get(id string) (contracts.Prayer, bool) {
	if i := v.indexOf(id); i >= 0 {
		return v.items[i], true
	}
	return contracts.Prayer{}, false
}

// Replace swaps the whole content for an authoritative snapshot. Ameen counts
// merge with the highest count already seen, as events do.
func (v *View) Replace(rows []contracts.Prayer) {
	items := make([]contracts.Prayer, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	versions := make(map[string]int64, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		if row.Version > versions[row.ID] {
			versions[row.ID] = row.Version
		}
		row.AmeenCount = v.raiseCount(row.ID, row.AmeenCount)
		if !v.filter.Match(row) {
			continue
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		items = append(items, row)
	}
	slices.SortFunc(items, compare)

	v.items = items
	v.versions = versions
	v.lastSeq = map[string]uint64{}
	v.deleted = map[string]struct{}{}
}

// Apply folds one change event into the view and reports whether the visible content changed.
func (v *View) Apply(ev contracts.ChangeEvent) bool {
	id := ev.PrayerID()
	if id == "" {
		return false
	}

	switch ev.Type {
	case contracts.EventInsert, contracts.EventUpdate:
		if ev.New == nil {
			return false
		}
		if _, gone := v.deleted[id]; gone {
			return false
		}
		count := v.raiseCount(id, ev.New.AmeenCount)
		if v.stale(id, ev) {
			// An outdated row still carries a count that was committed once.
			return v.showCount(id, count)
		}
		row := *ev.New
		row.AmeenCount = count
		if !v.filter.Match(row) {
			return v.remove(id)
		}
		return v.upsert(row)
	case contracts.EventDelete:
		v.deleted[id] = struct{}{}
		delete(v.counts, id)
		return v.remove(id)
	default:
		return false
	}
}

func (v *View) raiseCount(id string, count int) int {
	if count > v.counts[id] {
		v.counts[id] = count
	}
	return v.counts[id]
}

func (v *View) showCount(id string, count int) bool {
	i := v.indexOf(id)
	if i < 0 || v.items[i].AmeenCount >= count {
		return false
	}
	v.items[i].AmeenCount = count
	return true
}

// stale reports whether ev is not newer than what the view already holds for
// id, and records it as the newest otherwise. Row versions order writes to one
// prayer whatever order they are published or reflected in. Without a version,
// the stream sequence is used; an unsequenced reflection is dropped once the
// stream has delivered anything for the id.
func (v *View) stale(id string, ev contracts.ChangeEvent) bool {
	if ev.New.Version > 0 {
		if last, ok := v.versions[id]; ok && ev.New.Version <= last {
			return true
		}
		v.versions[id] = ev.New.Version
		return false
	}
	last, ok := v.lastSeq[id]
	if ev.Seq == 0 {
		return ok
	}
	if ok && ev.Seq <= last {
		return true
	}
	v.lastSeq[id] = ev.Seq
	return false
}

func (v *View) upsert(row contracts.Prayer) bool {
	i := v.indexOf(row.ID)
	if i < 0 {
		v.insertSorted(row)
		return true
	}

	current := v.items[i]
	if samePrayer(row, current) {
		v.items[i].Version = row.Version
		return false
	}
	if row.CreatedAt.Equal(current.CreatedAt) {
		v.items[i] = row
		return true
	}
	v.items = slices.Delete(v.items, i, i+1)
	v.insertSorted(row)
	return true
}

func (v *View) insertSorted(row contracts.Prayer) {
	pos, _ := slices.BinarySearchFunc(v.items, row, compare)
	v.items = slices.Insert(v.items, pos, row)
}

func (v *View) remove(id string) bool {
	i := v.indexOf(id)
	if i < 0 {
		return false
	}
	v.items = slices.Delete(v.items, i, i+1)
	return true
}

func (v *View) indexOf(id string) int {
	return slices.IndexFunc(v.items, func(p contracts.Prayer) bool { return p.ID == id })
}

func samePrayer(a, b contracts.Prayer) bool {
	return a.ID == b.ID &&
		a.Content == b.Content &&
		a.AmeenCount == b.AmeenCount &&
		a.IsPublished == b.IsPublished &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// compare orders newest first, then by id.
func compare(a, b contracts.Prayer) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
