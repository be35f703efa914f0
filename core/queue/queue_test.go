package queue

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string) media.MusicItem {
	return media.MusicItem{Platform: "test", ID: id, Title: id}
}

func ids(q *Queue) []string {
	out := make([]string, 0, q.Len())
	for _, e := range q.Entries() {
		out = append(out, e.Item.ID)
	}
	return out
}

func fixedClock() func() time.Time {
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return t }
}

func TestAddNextScenario(t *testing.T) {
	q := New()
	q.Set([]media.MusicItem{item("A"), item("B"), item("C")})

	q.AddNext([]media.MusicItem{item("D"), item("E")}, 1)

	assert.Equal(t, []string{"A", "B", "D", "E", "C"}, ids(q))
	assert.Equal(t, 1, q.IndexOf(item("B")))
}

func TestAddNextMovesExistingItems(t *testing.T) {
	tests := []struct {
		name    string
		queue   []string
		current int
		add     []string
		want    []string
	}{
		{"earlier occurrence removed", []string{"A", "B", "C", "D"}, 2, []string{"A"}, []string{"B", "C", "A", "D"}},
		{"later occurrence removed", []string{"A", "B", "C", "D"}, 0, []string{"D", "C"}, []string{"A", "D", "C", "B"}},
		{"current item leads batch", []string{"A", "B", "C"}, 1, []string{"X", "B"}, []string{"A", "B", "X", "C"}},
		{"no current inserts at front", []string{"A", "B"}, -1, []string{"X"}, []string{"X", "A", "B"}},
		{"empty queue", nil, -1, []string{"X", "Y"}, []string{"X", "Y"}},
		{"duplicate batch entries", []string{"A"}, 0, []string{"X", "X", "Y"}, []string{"A", "X", "Y"}},
		{"current at end", []string{"A", "B"}, 1, []string{"C"}, []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			q.Set(toItems(tt.queue))
			q.AddNext(toItems(tt.add), tt.current)
			assert.Equal(t, tt.want, ids(q))
		})
	}
}

func TestAddNextEveryItemOnceAfterCurrent(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	pool := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for round := 0; round < 200; round++ {
		n := 1 + rng.IntN(len(pool))
		q := New()
		q.Set(toItems(pool[:n]))
		current := rng.IntN(n)
		curID := pool[current]

		var add []string
		for _, id := range pool {
			if rng.IntN(3) == 0 {
				add = append(add, id)
			}
		}
		before := ids(q)
		q.AddNext(toItems(add), current)
		got := ids(q)

		seen := map[string]int{}
		for _, id := range got {
			seen[id]++
		}
		for id, count := range seen {
			require.Equal(t, 1, count, "duplicate %s in %v", id, got)
		}
		for _, id := range before {
			require.Contains(t, got, id, "lost %s", id)
		}

		if len(add) == 0 {
			continue
		}
		batch := append([]string(nil), add...)
		if idx := indexOf(batch, curID); idx > 0 {
			batch = append([]string{curID}, append(batch[:idx:idx], batch[idx+1:]...)...)
		}
		start := indexOf(got, batch[0])
		require.Equal(t, batch, got[start:start+len(batch)])
		if batch[0] != curID {
			require.Equal(t, curID, got[start-1], "batch must follow the current item")
		}
	}
}

func TestRemove(t *testing.T) {
	q := New()
	q.Set(toItems([]string{"A", "B", "C", "D"}))

	assert.Equal(t, 2, q.Remove(item("B"), item("D"), item("Z")))
	assert.Equal(t, []string{"A", "C"}, ids(q))
	assert.Equal(t, 1, q.IndexOf(item("C")))
	assert.Equal(t, -1, q.IndexOf(item("B")))

	e, ok := q.RemoveAt(0)
	require.True(t, ok)
	assert.Equal(t, "A", e.Item.ID)
	_, ok = q.RemoveAt(5)
	assert.False(t, ok)
	assert.Equal(t, []string{"C"}, ids(q))
}

func TestSetDedupesFirstWins(t *testing.T) {
	q := New()
	first := item("A")
	first.Title = "first"
	second := item("A")
	second.Title = "second"
	q.Set([]media.MusicItem{first, item("B"), second})

	assert.Equal(t, []string{"A", "B"}, ids(q))
	e, _ := q.At(0)
	assert.Equal(t, "first", e.Item.Title)
}

func TestShuffleRoundTrip(t *testing.T) {
	q := New(WithRand(rand.New(rand.NewPCG(7, 9))), WithClock(fixedClock()))
	q.Set(toItems([]string{"A", "B", "C"}))
	q.AddNext(toItems([]string{"D", "E"}), 1)
	q.Append(toItems([]string{"F", "G", "H"}))
	original := ids(q)
	require.Equal(t, []string{"A", "B", "D", "E", "C", "F", "G", "H"}, original)

	q.Shuffle()
	for i, e := range q.Entries() {
		assert.Equal(t, i, q.IndexOf(e.Item))
	}
	q.Unshuffle()

	assert.Equal(t, original, ids(q))
}

func TestShuffleRoundTripAfterAddNext(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		q := New(WithRand(rand.New(rand.NewPCG(seed, seed+1))))
		q.Set(toItems([]string{"A", "B", "C"}))
		q.AddNext(toItems([]string{"D", "E"}), 1)
		require.Equal(t, []string{"A", "B", "D", "E", "C"}, ids(q))

		q.Shuffle()
		q.Unshuffle()
		assert.Equal(t, []string{"A", "B", "D", "E", "C"}, ids(q), "seed %d", seed)
	}
}

func TestRepeatedShuffleRoundTrip(t *testing.T) {
	q := New(WithRand(rand.New(rand.NewPCG(5, 6))), WithClock(fixedClock()))
	q.Set(toItems([]string{"A", "B", "C", "D"}))
	q.AddNext(toItems([]string{"X"}), 0)

	q.Shuffle()
	q.Unshuffle()
	q.AddNext(toItems([]string{"Y"}), 2)
	q.Shuffle()
	q.Unshuffle()

	assert.Equal(t, []string{"A", "X", "B", "Y", "C", "D"}, ids(q))
}

func TestStampsIncreaseWithFrozenClock(t *testing.T) {
	q := New(WithClock(fixedClock()))
	q.Set(toItems([]string{"A"}))
	q.Append(toItems([]string{"B"}))
	a, _ := q.At(0)
	b, _ := q.At(1)
	assert.Less(t, a.InsertedAt, b.InsertedAt)
}

func TestInsertedWhileShuffledSortsLast(t *testing.T) {
	q := New(WithRand(rand.New(rand.NewPCG(3, 4))))
	q.Set(toItems([]string{"A", "B", "C", "D"}))
	q.Shuffle()
	q.AddNext(toItems([]string{"X"}), 0)
	q.Unshuffle()
	assert.Equal(t, []string{"A", "B", "C", "D", "X"}, ids(q))
}

func TestRestoreKeepsStamps(t *testing.T) {
	q := New()
	q.Restore([]Entry{
		{Item: item("B"), InsertedAt: 20, InsertIndex: 0},
		{Item: item("A"), InsertedAt: 10, InsertIndex: 0},
		{Item: item("A"), InsertedAt: 30, InsertIndex: 0},
	})
	assert.Equal(t, []string{"B", "A"}, ids(q))
	q.Unshuffle()
	assert.Equal(t, []string{"A", "B"}, ids(q))

	q.Append(toItems([]string{"C"}))
	c, _ := q.At(2)
	assert.Greater(t, c.InsertedAt, int64(20))
}

func toItems(list []string) []media.MusicItem {
	out := make([]media.MusicItem, 0, len(list))
	for _, id := range list {
		out = append(out, item(id))
	}
	return out
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
