// Package audio adapts audio output engines to the player.
package audio

import (
	"context"
	"errors"
)

// ErrUnsupported is returned for operations an engine cannot perform.
var ErrUnsupported = errors.New("audio: operation not supported")

// Source is a resolved stream handed to an engine.
type Source struct {
	URL     string
	Headers map[string]string
}

// Callbacks receive engine events. Any of them may be nil.
type Callbacks struct {
	OnProgress func(current, duration float64)
	OnEnded    func()
	OnError    func(err error)
}

// Backend is an audio output engine.
type Backend interface {
	Load(ctx context.Context, src Source) error
	Play() error
	Pause() error
	// Stop halts playback and unloads the current source.
	Stop() error
	Seek(seconds float64) error
	// SetVolume takes a value in [0, 1].
	SetVolume(volume float64) error
	SetSpeed(rate float64) error
	SetCallbacks(cb Callbacks)
	Close() error
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
