package lyric

import (
	"testing"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var song = media.MusicItem{Platform: "p", ID: "1"}

func TestParseLRC(t *testing.T) {
	raw := "[ti:Title]\n[ar:Artist]\n[00:01.50]first\n[00:03.5][00:07.123]chorus\n[00:05]plain\nnot a lyric\n"
	p := Parse(song, raw, "", 0)

	assert.Equal(t, "Title", p.Meta()["ti"])
	assert.Equal(t, "Artist", p.Meta()["ar"])

	lines := p.Lines()
	require.Len(t, lines, 4)
	assert.InDelta(t, 1.5, lines[0].Time, 1e-9)
	assert.Equal(t, "first", lines[0].Text)
	assert.InDelta(t, 3.5, lines[1].Time, 1e-9)
	assert.Equal(t, "chorus", lines[1].Text)
	assert.InDelta(t, 5.0, lines[2].Time, 1e-9)
	assert.InDelta(t, 7.123, lines[3].Time, 1e-9)
	assert.Equal(t, "chorus", lines[3].Text)
	for i, l := range lines {
		assert.Equal(t, i, l.Index)
	}
}

func TestPosition(t *testing.T) {
	p := Parse(song, "[00:01.00]a\n[00:02.00]b\n[00:04.00]c", "", 0)
	tests := []struct {
		at   float64
		want int
	}{
		{0, -1},
		{0.99, -1},
		{1, 0},
		{1.5, 0},
		{2, 1},
		{3.99, 1},
		{10, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Position(tt.at), "at %v", tt.at)
	}
}

func TestOffsets(t *testing.T) {
	p := Parse(song, "[offset:500]\n[00:02.00]a", "", 0)
	assert.InDelta(t, 1.5, p.Lines()[0].Time, 1e-9)

	p = Parse(song, "[offset:500]\n[00:02.00]a", "", -1)
	assert.InDelta(t, 2.5, p.Lines()[0].Time, 1e-9)
}

func TestTranslationMerged(t *testing.T) {
	p := Parse(song, "[00:01.00]hello\n[00:02.00]world", "[00:01.00]你好\n[00:03.00]orphan", 0)
	lines := p.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "你好", lines[0].Translation)
	assert.Empty(t, lines[1].Translation)
}
