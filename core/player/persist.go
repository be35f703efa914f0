package player

import (
	"context"
	"sync"

	"github.com/liuran001/MusicPlayer-Go/core"
)

// Preference keys.
const (
	KeyQueue      = "player.queue"
	KeyCurrent    = "player.currentItem"
	KeyProgress   = "player.progress"
	KeyVolume     = "player.volume"
	KeySpeed      = "player.speed"
	KeyQuality    = "player.quality"
	KeyRepeatMode = "player.repeatMode"
)

// persister writes state to the preference store. Writes for a key
// coalesce to the latest value and a single flusher runs at a time, so
// stores happen in mutation order. Without a pool flushing is synchronous.
type persister struct {
	store  core.PreferenceStore
	pool   core.WorkerPool
	logger core.Logger

	mu      sync.Mutex
	pending map[string]any
	order   []string
	running bool
	idle    *sync.Cond
}

func newPersister(store core.PreferenceStore, pool core.WorkerPool, logger core.Logger) *persister {
	p := &persister{store: store, pool: pool, logger: logger, pending: make(map[string]any)}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *persister) put(values map[string]any) {
	if p == nil || p.store == nil || len(values) == 0 {
		return
	}
	p.mu.Lock()
	for _, key := range sortedKeys(values) {
		if _, queued := p.pending[key]; !queued {
			p.order = append(p.order, key)
		}
		p.pending[key] = values[key]
	}
	start := !p.running
	if start {
		p.running = true
	}
	p.mu.Unlock()
	if !start {
		return
	}
	if p.pool == nil {
		p.flush()
		return
	}
	// Submit can block on a full pool whose workers wait on the caller.
	go func() {
		if err := p.pool.Submit(p.flush); err != nil {
			p.flush()
		}
	}()
}

func (p *persister) flush() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.running = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		batch, order := p.pending, p.order
		p.pending, p.order = make(map[string]any), nil
		p.mu.Unlock()

		for _, key := range order {
			if err := p.store.Store(context.Background(), key, batch[key]); err != nil && p.logger != nil {
				p.logger.Warn("persist player state failed", "key", key, "error", err)
			}
		}
	}
}

// wait blocks until no flush is running.
func (p *persister) wait() {
	if p == nil {
		return
	}
	p.mu.Lock()
	for p.running {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for _, k := range []string{KeyQueue, KeyCurrent, KeyProgress, KeyVolume, KeySpeed, KeyQuality, KeyRepeatMode} {
		if _, ok := values[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
