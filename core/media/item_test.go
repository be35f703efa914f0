package media

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMusicItemKeepsUnknownFields(t *testing.T) {
	raw := map[string]any{
		"id":       12345,
		"platform": "demo",
		"title":    "Song",
		"duration": "215.5",
		"songmid":  "abc",
		"nested":   map[string]any{"k": "v"},
	}

	var item MusicItem
	require.NoError(t, Decode(raw, &item))
	assert.Equal(t, "12345", item.ID)
	assert.Equal(t, "demo", item.Platform)
	assert.Equal(t, 215.5, item.Duration)
	assert.Equal(t, "abc", item.Extra["songmid"])
	assert.NotContains(t, item.Extra, "title")

	back := ToMap(item)
	assert.Equal(t, "abc", back["songmid"])
	assert.Equal(t, "12345", back["id"])
	assert.Equal(t, map[string]any{"k": "v"}, back["nested"])
}

func TestMusicItemKnownFieldWinsOverExtra(t *testing.T) {
	item := MusicItem{Platform: "demo", ID: "1", Title: "Real", Extra: map[string]any{"title": "Shadow"}}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Real", decoded["title"])
}

func TestIsSame(t *testing.T) {
	a := &MusicItem{Platform: "p", ID: "1", Title: "x"}
	b := &MusicItem{Platform: "p", ID: "1", Title: "y"}
	c := &MusicItem{Platform: "P", ID: "1"}

	assert.True(t, IsSame(a, b))
	assert.False(t, IsSame(a, c))
	assert.False(t, IsSame(a, nil))
}

func TestMergeKeepsIdentity(t *testing.T) {
	base := MusicItem{Platform: "p", ID: "1", Title: "old", Extra: map[string]any{"a": 1}}
	merged := base.Merge(MusicItem{Platform: "other", ID: "2", Title: "new", Extra: map[string]any{"b": 2}})

	assert.Equal(t, Identity{Platform: "p", ID: "1"}, merged.Identity())
	assert.Equal(t, "new", merged.Title)
	assert.Len(t, merged.Extra, 2)
	assert.Len(t, base.Extra, 1)
}

func TestNoRetryError(t *testing.T) {
	err := NewNoRetryError("demo", "region locked")
	assert.True(t, errors.Is(err, ErrNoRetry))

	var pluginErr *PluginError
	require.True(t, errors.As(err, &pluginErr))
	assert.Equal(t, "demo", pluginErr.Platform)
}
