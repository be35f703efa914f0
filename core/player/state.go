// Package player implements the playback state machine on top of the
// plugin dispatchers, the play queue and an audio engine.
package player

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/liuran001/MusicPlayer-Go/core/lyric"
	"github.com/liuran001/MusicPlayer-Go/core/media"
)

// State is the player state.
type State string

const (
	StateNone      State = "none"
	StateBuffering State = "buffering"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
)

// RepeatMode selects what happens at the end of a track.
type RepeatMode string

const (
	RepeatQueue   RepeatMode = "queue"
	RepeatLoop    RepeatMode = "loop"
	RepeatShuffle RepeatMode = "shuffle"
)

// ParseRepeatMode parses a repeat mode name.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch m := RepeatMode(s); m {
	case RepeatQueue, RepeatLoop, RepeatShuffle:
		return m, nil
	}
	return "", fmt.Errorf("unknown repeat mode %q", s)
}

// ErrorPolicy selects what happens after a playback error.
type ErrorPolicy string

const (
	PolicySkip  ErrorPolicy = "skip"
	PolicyPause ErrorPolicy = "pause"
)

// ParseErrorPolicy maps a config value to a policy, defaulting to skip.
func ParseErrorPolicy(s string) ErrorPolicy {
	if ErrorPolicy(s) == PolicyPause {
		return PolicyPause
	}
	return PolicySkip
}

// Progress is the playback position. Duration is +Inf while unknown.
type Progress struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

func resetProgress() Progress {
	return Progress{CurrentTime: 0, Duration: math.Inf(1)}
}

// MarshalJSON encodes an unknown duration as null.
func (p Progress) MarshalJSON() ([]byte, error) {
	var duration *float64
	if !math.IsInf(p.Duration, 0) && !math.IsNaN(p.Duration) {
		duration = &p.Duration
	}
	return json.Marshal(struct {
		CurrentTime float64  `json:"currentTime"`
		Duration    *float64 `json:"duration"`
	}{p.CurrentTime, duration})
}

func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw struct {
		CurrentTime float64  `json:"currentTime"`
		Duration    *float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.CurrentTime = raw.CurrentTime
	p.Duration = math.Inf(1)
	if raw.Duration != nil {
		p.Duration = *raw.Duration
	}
	return nil
}

// EventKind names a state change.
type EventKind string

const (
	EventState      EventKind = "state"
	EventCurrent    EventKind = "current"
	EventQueue      EventKind = "queue"
	EventProgress   EventKind = "progress"
	EventRepeatMode EventKind = "repeatMode"
	EventQuality    EventKind = "quality"
	EventVolume     EventKind = "volume"
	EventSpeed      EventKind = "speed"
	EventLyric      EventKind = "lyric"
	EventError      EventKind = "error"
)

// Event is one state change notification. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind       EventKind         `json:"kind"`
	State      State             `json:"state,omitempty"`
	Index      int               `json:"index"`
	Item       *media.MusicItem  `json:"item,omitempty"`
	Queue      []media.MusicItem `json:"queue,omitempty"`
	Progress   *Progress         `json:"progress,omitempty"`
	RepeatMode RepeatMode        `json:"repeatMode,omitempty"`
	Quality    media.Quality     `json:"quality,omitempty"`
	Volume     float64           `json:"volume,omitempty"`
	Speed      float64           `json:"speed,omitempty"`
	Lyric      *lyric.Line       `json:"lyric,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Snapshot is the full player state at one instant.
type Snapshot struct {
	Queue        []media.MusicItem `json:"queue"`
	CurrentIndex int               `json:"currentIndex"`
	CurrentItem  *media.MusicItem  `json:"currentItem"`
	State        State             `json:"state"`
	RepeatMode   RepeatMode        `json:"repeatMode"`
	Quality      media.Quality     `json:"quality"`
	Volume       float64           `json:"volume"`
	Speed        float64           `json:"speed"`
	Progress     Progress          `json:"progress"`
	Lyric        *lyric.Line       `json:"lyric,omitempty"`
}

// PlayOptions tunes PlayIndex.
type PlayOptions struct {
	// Refresh resolves a new source even when the item is already current.
	Refresh bool
	// RestartOnSameMedia seeks to 0 when the item is already current.
	RestartOnSameMedia bool
	SeekTo             float64
	Quality            media.Quality
	NoAutoplay         bool
}
