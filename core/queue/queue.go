// Package queue implements the play queue: ordered entries plus an
// identity to position index.
package queue

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/samber/lo"
)

// Entry is a queued item stamped with its insertion order.
type Entry struct {
	Item        media.MusicItem `json:"item"`
	InsertedAt  int64           `json:"insertedAt"`
	InsertIndex int             `json:"insertIndex"`
}

// Identity returns the identity of the queued item.
func (e Entry) Identity() media.Identity {
	return e.Item.Identity()
}

// Queue is an ordered list of unique items. It is not safe for concurrent
// use; the owner serializes access.
type Queue struct {
	entries   []Entry
	index     map[media.Identity]int
	now       func() time.Time
	rng       *rand.Rand
	lastStamp int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the insertion clock.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithRand overrides the shuffle source.
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) { q.rng = r }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		index: make(map[media.Identity]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// At returns the entry at i.
func (q *Queue) At(i int) (Entry, bool) {
	if i < 0 || i >= len(q.entries) {
		return Entry{}, false
	}
	return q.entries[i], true
}

// Entries returns a copy of the entries in play order.
func (q *Queue) Entries() []Entry {
	return slices.Clone(q.entries)
}

// Items returns the queued items in play order.
func (q *Queue) Items() []media.MusicItem {
	return lo.Map(q.entries, func(e Entry, _ int) media.MusicItem { return e.Item })
}

// IndexOf returns the position of item, or -1.
func (q *Queue) IndexOf(item media.MusicItem) int {
	return q.IndexOfIdentity(item.Identity())
}

// IndexOfIdentity returns the position of id, or -1.
func (q *Queue) IndexOfIdentity(id media.Identity) int {
	if i, ok := q.index[id]; ok {
		return i
	}
	return -1
}

// Contains reports whether item is queued.
func (q *Queue) Contains(item media.MusicItem) bool {
	return q.IndexOf(item) >= 0
}

// Set replaces the queue with items. Duplicates keep their first occurrence.
func (q *Queue) Set(items []media.MusicItem) {
	q.entries = q.stamp(uniqueItems(items))
	q.reindex()
}

// Restore replaces the queue with previously persisted entries, keeping
// their stamps. Unstamped entries are stamped now.
func (q *Queue) Restore(entries []Entry) {
	restored := lo.UniqBy(entries, func(e Entry) media.Identity { return e.Identity() })
	stamp := q.nextStamp()
	for i := range restored {
		if restored[i].InsertedAt == 0 {
			restored[i].InsertedAt = stamp
			restored[i].InsertIndex = i
		}
		q.lastStamp = max(q.lastStamp, restored[i].InsertedAt)
	}
	q.entries = restored
	q.reindex()
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.entries = nil
	q.reindex()
}

// AddNext places items right after the entry at current, removing their
// earlier occurrences. When the item at current is among them it leads the
// batch. A negative current inserts at the front.
func (q *Queue) AddNext(items []media.MusicItem, current int) {
	batch := uniqueItems(items)
	if len(batch) == 0 {
		return
	}
	if cur, ok := q.At(current); ok {
		curID := cur.Identity()
		if pos := slices.IndexFunc(batch, func(it media.MusicItem) bool { return it.Identity() == curID }); pos > 0 {
			lead := batch[pos]
			batch = slices.Delete(batch, pos, pos+1)
			batch = slices.Insert(batch, 0, lead)
		}
	}

	incoming := q.stamp(batch)
	incomingIDs := lo.SliceToMap(incoming, func(e Entry) (media.Identity, struct{}) {
		return e.Identity(), struct{}{}
	})
	keep := func(e Entry, _ int) bool {
		_, hit := incomingIDs[e.Identity()]
		return !hit
	}

	split := min(max(current+1, 0), len(q.entries))
	start := lo.Filter(q.entries[:split], keep)
	tail := lo.Filter(q.entries[split:], keep)

	next := make([]Entry, 0, len(start)+len(incoming)+len(tail))
	next = append(next, start...)
	next = append(next, incoming...)
	next = append(next, tail...)
	q.entries = next
	q.reindex()
}

// Append adds items to the end, removing their earlier occurrences.
func (q *Queue) Append(items []media.MusicItem) {
	incoming := q.stamp(uniqueItems(items))
	if len(incoming) == 0 {
		return
	}
	incomingIDs := lo.SliceToMap(incoming, func(e Entry) (media.Identity, struct{}) {
		return e.Identity(), struct{}{}
	})
	q.entries = append(lo.Reject(q.entries, func(e Entry, _ int) bool {
		_, hit := incomingIDs[e.Identity()]
		return hit
	}), incoming...)
	q.reindex()
}

// Remove drops every entry matching one of items and returns how many
// were removed.
func (q *Queue) Remove(items ...media.MusicItem) int {
	if len(items) == 0 {
		return 0
	}
	ids := lo.SliceToMap(items, func(it media.MusicItem) (media.Identity, struct{}) {
		return it.Identity(), struct{}{}
	})
	before := len(q.entries)
	q.entries = lo.Reject(q.entries, func(e Entry, _ int) bool {
		_, hit := ids[e.Identity()]
		return hit
	})
	q.reindex()
	return before - len(q.entries)
}

// RemoveAt drops the entry at i.
func (q *Queue) RemoveAt(i int) (Entry, bool) {
	e, ok := q.At(i)
	if !ok {
		return Entry{}, false
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	q.reindex()
	return e, true
}

// Replace overwrites the item at the position of item's identity, keeping
// its stamps.
func (q *Queue) Replace(item media.MusicItem) bool {
	i := q.IndexOf(item)
	if i < 0 {
		return false
	}
	q.entries[i].Item = item
	return true
}

// Shuffle permutes the entries randomly. The current order is stamped
// first so Unshuffle returns to it.
func (q *Queue) Shuffle() {
	if len(q.entries) > 0 {
		stamp := q.nextStamp()
		for i := range q.entries {
			q.entries[i].InsertedAt = stamp
			q.entries[i].InsertIndex = i
		}
	}
	shuffle := rand.Shuffle
	if q.rng != nil {
		shuffle = q.rng.Shuffle
	}
	shuffle(len(q.entries), func(i, j int) {
		q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	})
	q.reindex()
}

// Unshuffle restores the order from before Shuffle. Items added since
// then follow in insertion order.
func (q *Queue) Unshuffle() {
	slices.SortStableFunc(q.entries, func(a, b Entry) int {
		if a.InsertedAt != b.InsertedAt {
			if a.InsertedAt < b.InsertedAt {
				return -1
			}
			return 1
		}
		return a.InsertIndex - b.InsertIndex
	})
	q.reindex()
}

func (q *Queue) reindex() {
	q.index = make(map[media.Identity]int, len(q.entries))
	for i, e := range q.entries {
		q.index[e.Identity()] = i
	}
}

// nextStamp returns a strictly increasing millisecond stamp so batches
// never share one.
func (q *Queue) nextStamp() int64 {
	stamp := q.now().UnixMilli()
	if stamp <= q.lastStamp {
		stamp = q.lastStamp + 1
	}
	q.lastStamp = stamp
	return stamp
}

func (q *Queue) stamp(items []media.MusicItem) []Entry {
	if len(items) == 0 {
		return nil
	}
	stamp := q.nextStamp()
	return lo.Map(items, func(it media.MusicItem, i int) Entry {
		return Entry{Item: it, InsertedAt: stamp, InsertIndex: i}
	})
}

func uniqueItems(items []media.MusicItem) []media.MusicItem {
	return lo.UniqBy(items, func(it media.MusicItem) media.Identity { return it.Identity() })
}
