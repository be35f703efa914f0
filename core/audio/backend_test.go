package audio

import (
	"context"
	"fmt"
	"testing"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
)

func TestClampVolume(t *testing.T) {
	assert.Equal(t, 0.0, clampVolume(-1))
	assert.Equal(t, 0.4, clampVolume(0.4))
	assert.Equal(t, 1.0, clampVolume(3))
}

func TestNullTracksSource(t *testing.T) {
	var b Backend = NewNull()
	n := b.(*Null)

	assert.NoError(t, b.Load(context.Background(), Source{URL: "file:///a.mp3"}))
	assert.Equal(t, "file:///a.mp3", n.Loaded().URL)
	assert.NoError(t, b.Stop())
	assert.Empty(t, n.Loaded().URL)
}

func TestMPDRejectsSpeedChange(t *testing.T) {
	m := &MPD{}
	assert.NoError(t, m.SetSpeed(1))
	assert.ErrorIs(t, m.SetSpeed(1.5), ErrUnsupported)
}

func TestMPDTransitionReport(t *testing.T) {
	tests := []struct {
		name   string
		prev   string
		status mpd.Attrs
		want   string
	}{
		{"progress while playing", "play", mpd.Attrs{"state": "play", "elapsed": "12.5", "duration": "200"}, "progress 12.5/200"},
		{"stop after play ends", "play", mpd.Attrs{"state": "stop"}, "ended"},
		{"stop after pause is quiet", "pause", mpd.Attrs{"state": "stop"}, ""},
		{"paused is quiet", "play", mpd.Attrs{"state": "pause", "elapsed": "3"}, ""},
		{"error wins", "play", mpd.Attrs{"state": "stop", "error": "decode failed"}, "error mpd: decode failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			observe(tt.prev, tt.status).report(Callbacks{
				OnProgress: func(cur, dur float64) { got = fmt.Sprintf("progress %g/%g", cur, dur) },
				OnEnded:    func() { got = "ended" },
				OnError:    func(err error) { got = "error " + err.Error() },
			})
			assert.Equal(t, tt.want, got)
		})
	}
}
