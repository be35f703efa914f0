package lyric

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/media"
)

var errStale = errors.New("lyric: item changed")

// Fetcher resolves lyric text for an item. Plugin dispatchers satisfy it.
type Fetcher interface {
	GetLyric(ctx context.Context, item media.MusicItem) *media.LyricSource
}

// Current is the lyric of the current item and its active line.
type Current struct {
	Parser *Parser
	Line   int
}

// Options wires a Resolver to its collaborators.
type Options struct {
	Links core.LinkedLyricStore
	// Lookup returns the fetcher serving platform, or nil.
	Lookup func(platform string) Fetcher
	// CurrentItem reports the player's current item for freshness checks.
	CurrentItem func() *media.MusicItem
	// Progress reports the playback position in seconds.
	Progress func() float64
	Offset   float64
	Logger   core.Logger
}

// Resolver resolves and caches the lyric of the current item.
type Resolver struct {
	opts Options

	mu      sync.Mutex
	offset  float64
	current *Current
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	return &Resolver{opts: opts, offset: opts.Offset}
}

// Current returns the cached lyric, or nil.
func (r *Resolver) Current() *Current {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// Offset returns the user time offset in seconds.
func (r *Resolver) Offset() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Clear drops the cached lyric.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Resolve loads the lyric of item unless one is already cached for it and
// force is false. It returns nil when there is no lyric, when anything fails,
// or when item stopped being current while resolving.
func (r *Resolver) Resolve(ctx context.Context, item *media.MusicItem, force bool) (cur *Current) {
	if item == nil {
		r.Clear()
		return nil
	}
	r.mu.Lock()
	if !force && r.current != nil && r.current.Parser.Identity() == item.Identity() {
		c := *r.current
		r.mu.Unlock()
		return &c
	}
	offset := r.offset
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logf("lyric resolve panic", "id", item.ID, "error", fmt.Sprint(rec))
			cur = nil
		}
	}()

	src, err := r.fetch(ctx, *item)
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil || src == nil || src.RawLrc == "" {
		if err != nil {
			r.logf("lyric resolve failed", "id", item.ID, "error", err)
		}
		r.store(item, nil)
		return nil
	}

	parser := Parse(*item, src.RawLrc, src.Translation, offset)
	progress := 0.0
	if r.opts.Progress != nil {
		progress = r.opts.Progress()
	}
	next := &Current{Parser: parser, Line: parser.Position(progress)}
	if !r.store(item, next) {
		return nil
	}
	c := *next
	return &c
}

// Update recomputes the active line for seconds. It reports the line and
// whether it changed.
func (r *Resolver) Update(seconds float64) (Line, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Line{}, false
	}
	idx := r.current.Parser.Position(seconds)
	line, _ := r.current.Parser.Line(idx)
	if idx == r.current.Line {
		return line, false
	}
	r.current.Line = idx
	return line, true
}

// SetOffset changes the user offset and reloads the current item's lyric.
func (r *Resolver) SetOffset(ctx context.Context, seconds float64) *Current {
	r.mu.Lock()
	r.offset = seconds
	r.mu.Unlock()
	return r.Resolve(ctx, r.currentItem(), true)
}

// Link redirects lyric lookups for from to target and reloads.
func (r *Resolver) Link(ctx context.Context, from, target media.MusicItem) error {
	if r.opts.Links == nil {
		return errors.New("linked lyric store not configured")
	}
	if err := r.opts.Links.LinkLyric(ctx, from.Identity(), target); err != nil {
		return fmt.Errorf("link lyric: %w", err)
	}
	r.reloadIfCurrent(ctx, from)
	return nil
}

// Unlink removes the redirection of from and reloads.
func (r *Resolver) Unlink(ctx context.Context, from media.MusicItem) error {
	if r.opts.Links == nil {
		return errors.New("linked lyric store not configured")
	}
	if err := r.opts.Links.UnlinkLyric(ctx, from.Identity()); err != nil {
		return fmt.Errorf("unlink lyric: %w", err)
	}
	r.reloadIfCurrent(ctx, from)
	return nil
}

func (r *Resolver) reloadIfCurrent(ctx context.Context, item media.MusicItem) {
	if cur := r.currentItem(); cur != nil && cur.Identity() == item.Identity() {
		r.Resolve(ctx, cur, true)
	}
}

func (r *Resolver) fetch(ctx context.Context, item media.MusicItem) (*media.LyricSource, error) {
	if r.opts.Links != nil {
		target, err := r.opts.Links.LinkedLyric(ctx, item.Identity())
		if !r.isCurrent(item) {
			return nil, errStale
		}
		if err != nil {
			r.logf("linked lyric lookup failed", "id", item.ID, "error", err)
		} else if target != nil {
			src := r.fetchFrom(ctx, *target)
			if !r.isCurrent(item) {
				return nil, errStale
			}
			if src != nil && src.RawLrc != "" {
				return src, nil
			}
		}
	}
	src := r.fetchFrom(ctx, item)
	if !r.isCurrent(item) {
		return nil, errStale
	}
	return src, nil
}

func (r *Resolver) fetchFrom(ctx context.Context, item media.MusicItem) *media.LyricSource {
	var f Fetcher
	if r.opts.Lookup != nil {
		f = r.opts.Lookup(item.Platform)
	}
	if f == nil {
		if item.RawLrc != "" {
			return &media.LyricSource{RawLrc: item.RawLrc}
		}
		return nil
	}
	return f.GetLyric(ctx, item)
}

// store caches c for item if item is still current.
func (r *Resolver) store(item *media.MusicItem, c *Current) bool {
	if !r.isCurrent(*item) {
		return false
	}
	r.mu.Lock()
	r.current = c
	r.mu.Unlock()
	return true
}

func (r *Resolver) isCurrent(item media.MusicItem) bool {
	cur := r.currentItem()
	if r.opts.CurrentItem == nil {
		return true
	}
	return cur != nil && cur.Identity() == item.Identity()
}

func (r *Resolver) currentItem() *media.MusicItem {
	if r.opts.CurrentItem == nil {
		return nil
	}
	return r.opts.CurrentItem()
}

func (r *Resolver) logf(msg string, args ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Debug(msg, args...)
	}
}
