package audio

import (
	"context"
	"sync"
)

// Null is an engine that plays nothing. It backs headless runs.
type Null struct {
	mu     sync.Mutex
	loaded Source
	cb     Callbacks
}

// NewNull creates a silent engine.
func NewNull() *Null {
	return &Null{}
}

func (n *Null) Load(ctx context.Context, src Source) error {
	n.mu.Lock()
	n.loaded = src
	n.mu.Unlock()
	return nil
}

func (n *Null) Play() error                 { return nil }
func (n *Null) Pause() error                { return nil }
func (n *Null) Seek(seconds float64) error  { return nil }
func (n *Null) SetVolume(v float64) error   { return nil }
func (n *Null) SetSpeed(rate float64) error { return nil }
func (n *Null) Close() error                { return nil }

func (n *Null) Stop() error {
	n.mu.Lock()
	n.loaded = Source{}
	n.mu.Unlock()
	return nil
}

func (n *Null) SetCallbacks(cb Callbacks) {
	n.mu.Lock()
	n.cb = cb
	n.mu.Unlock()
}

// Loaded returns the current source.
func (n *Null) Loaded() Source {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loaded
}
