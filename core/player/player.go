package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/audio"
	"github.com/liuran001/MusicPlayer-Go/core/event"
	"github.com/liuran001/MusicPlayer-Go/core/logger"
	"github.com/liuran001/MusicPlayer-Go/core/lyric"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/queue"
)

const (
	defaultSkipDelay    = time.Second
	progressPersistStep = time.Second
)

// MediaResolver is the plugin surface the player needs. Plugin dispatchers
// satisfy it.
type MediaResolver interface {
	GetMediaSource(ctx context.Context, item media.MusicItem, quality media.Quality, retries int, skipCacheUpdate bool) (*media.MediaSource, error)
	GetMusicInfo(ctx context.Context, item media.MusicItem) *media.MusicItem
	GetLyric(ctx context.Context, item media.MusicItem) *media.LyricSource
}

// Options wires a TrackPlayer.
type Options struct {
	Backend audio.Backend
	// Methods returns the resolver of a platform, or nil.
	Methods func(platform string) MediaResolver
	Prefs   core.PreferenceStore
	Files   core.FileChecker
	Links   core.LinkedLyricStore
	Pool    core.WorkerPool
	Logger  core.Logger
	Queue   *queue.Queue

	DefaultQuality     media.Quality
	WhenQualityMissing media.MissingPolicy
	ErrorPolicy        ErrorPolicy
	SkipDelay          time.Duration
	Retries            int
	LyricOffset        float64
}

// TrackPlayer owns the player state. All mutations go through its methods,
// which publish Events; results of plugin calls are applied only while the
// item they were made for is still current.
type TrackPlayer struct {
	opts    Options
	backend audio.Backend
	logger  core.Logger
	lyrics  *lyric.Resolver
	bus     *event.Bus[Event]
	persist *persister

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	queue       *queue.Queue
	index       int
	item        *media.MusicItem
	seq         uint64
	state       State
	repeat      RepeatMode
	quality     media.Quality
	volume      float64
	speed       float64
	progress    Progress
	loaded      *audio.Source
	ended       bool
	lastPersist time.Time
}

// New creates a player and attaches it to the backend's callbacks.
func New(opts Options) *TrackPlayer {
	if opts.Backend == nil {
		opts.Backend = audio.NewNull()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Queue == nil {
		opts.Queue = queue.New()
	}
	if !opts.DefaultQuality.Valid() {
		opts.DefaultQuality = media.DefaultQuality
	}
	if opts.WhenQualityMissing == "" {
		opts.WhenQualityMissing = media.PreferLower
	}
	if opts.ErrorPolicy == "" {
		opts.ErrorPolicy = PolicySkip
	}
	if opts.SkipDelay <= 0 {
		opts.SkipDelay = defaultSkipDelay
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &TrackPlayer{
		opts:     opts,
		backend:  opts.Backend,
		logger:   opts.Logger,
		bus:      event.New[Event](64),
		persist:  newPersister(opts.Prefs, opts.Pool, opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		queue:    opts.Queue,
		index:    -1,
		state:    StateNone,
		repeat:   RepeatQueue,
		quality:  opts.DefaultQuality,
		volume:   1,
		speed:    1,
		progress: resetProgress(),
	}
	p.lyrics = lyric.NewResolver(lyric.Options{
		Links:       opts.Links,
		Lookup:      p.lyricFetcher,
		CurrentItem: p.CurrentItem,
		Progress:    func() float64 { return p.Progress().CurrentTime },
		Offset:      opts.LyricOffset,
		Logger:      opts.Logger,
	})
	p.backend.SetCallbacks(audio.Callbacks{
		OnProgress: p.HandleProgress,
		OnEnded:    p.HandleEnded,
		OnError:    p.HandleError,
	})
	return p
}

// Subscribe attaches a state change listener.
func (p *TrackPlayer) Subscribe() *event.Subscription[Event] {
	return p.bus.Subscribe()
}

// Unsubscribe detaches a listener.
func (p *TrackPlayer) Unsubscribe(sub *event.Subscription[Event]) {
	p.bus.Unsubscribe(sub)
}

// Close stops background work and waits for pending state writes.
func (p *TrackPlayer) Close() error {
	p.cancel()
	p.wg.Wait()
	p.persist.wait()
	p.bus.Close()
	return nil
}

// CurrentItem returns a copy of the current item, or nil.
func (p *TrackPlayer) CurrentItem() *media.MusicItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil {
		return nil
	}
	item := p.item.Clone()
	return &item
}

// CurrentIndex returns the current queue position, or -1.
func (p *TrackPlayer) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Progress returns the playback position.
func (p *TrackPlayer) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// State returns the player state.
func (p *TrackPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the whole state.
func (p *TrackPlayer) Snapshot() Snapshot {
	var line *lyric.Line
	if cur := p.lyrics.Current(); cur != nil {
		if l, ok := cur.Parser.Line(cur.Line); ok {
			line = &l
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Queue:        p.queue.Items(),
		CurrentIndex: p.index,
		State:        p.state,
		RepeatMode:   p.repeat,
		Quality:      p.quality,
		Volume:       p.volume,
		Speed:        p.speed,
		Progress:     p.progress,
		Lyric:        line,
	}
	if p.item != nil {
		item := p.item.Clone()
		s.CurrentItem = &item
	}
	return s
}

// Lyric returns the current lyric, or nil.
func (p *TrackPlayer) Lyric() *lyric.Current {
	return p.lyrics.Current()
}

// PlayMusic plays item, queueing it after the current item when absent.
func (p *TrackPlayer) PlayMusic(ctx context.Context, item media.MusicItem, opts PlayOptions) error {
	p.mu.Lock()
	idx := p.queue.IndexOf(item)
	if idx < 0 {
		p.queue.AddNext([]media.MusicItem{item}, p.index)
		p.syncIndexLocked()
		idx = p.queue.IndexOf(item)
		p.publishQueueLocked()
		p.persistLocked(KeyQueue)
	}
	p.mu.Unlock()
	return p.PlayIndex(ctx, idx, opts)
}

// PlayMusicWithReplaceQueue replaces the queue with items and plays item,
// or the first entry when item is nil.
func (p *TrackPlayer) PlayMusicWithReplaceQueue(ctx context.Context, items []media.MusicItem, item *media.MusicItem) error {
	p.mu.Lock()
	if p.repeat == RepeatShuffle {
		p.queue.Set(items)
		p.queue.Shuffle()
	} else {
		p.queue.Set(items)
	}
	idx := 0
	if item != nil {
		if i := p.queue.IndexOf(*item); i >= 0 {
			idx = i
		}
	}
	p.syncIndexLocked()
	p.publishQueueLocked()
	p.persistLocked(KeyQueue)
	p.mu.Unlock()
	return p.PlayIndex(ctx, idx, PlayOptions{})
}

// PlayIndex plays the queue entry at i, taken modulo the queue length.
func (p *TrackPlayer) PlayIndex(ctx context.Context, i int, opts PlayOptions) error {
	return p.playIndex(ctx, i, opts, true)
}

func (p *TrackPlayer) playIndex(ctx context.Context, i int, opts PlayOptions, allowSkip bool) error {
	p.mu.Lock()
	n := p.queue.Len()
	if n == 0 {
		p.mu.Unlock()
		return nil
	}
	i = ((i % n) + n) % n
	entry, _ := p.queue.At(i)

	if i == p.index && p.item != nil && p.item.Identity() == entry.Identity() && !opts.Refresh && p.loaded != nil {
		err := p.restartLocked(ctx, opts)
		p.mu.Unlock()
		return err
	}

	item := entry.Item.Clone()
	p.setCurrentLocked(i, &item)
	p.setStateLocked(StateBuffering)
	seq := p.seq
	quality := opts.Quality
	if !quality.Valid() {
		quality = p.opts.DefaultQuality
	}
	p.mu.Unlock()

	src, used, err := p.fetchMediaSource(ctx, item, quality)

	p.mu.Lock()
	if p.seq != seq {
		p.mu.Unlock()
		p.logger.Debug("stale media source dropped", "id", item.ID)
		return nil
	}
	if err == nil {
		err = p.loadLocked(ctx, src, used, opts)
	}
	if err != nil {
		p.quality = p.opts.DefaultQuality
		p.publishLocked(Event{Kind: EventQuality, Quality: p.quality})
		p.stopBackendLocked()
		p.mu.Unlock()
		p.fail(item, err, allowSkip)
		return err
	}
	p.persistLocked(KeyCurrent, KeyQuality, KeyProgress)
	p.mu.Unlock()

	p.enrich(item, seq)
	p.loadLyric(item)
	return nil
}

// restartLocked is the path for replaying the loaded current item.
func (p *TrackPlayer) restartLocked(ctx context.Context, opts PlayOptions) error {
	if p.ended {
		if err := p.backend.Load(ctx, *p.loaded); err != nil {
			return fmt.Errorf("reload source: %w", err)
		}
		p.ended = false
	} else if opts.RestartOnSameMedia {
		if err := p.backend.Seek(0); err != nil {
			p.logger.Debug("seek to start failed", "error", err)
		}
	}
	if opts.RestartOnSameMedia || p.ended {
		p.progress.CurrentTime = 0
		p.publishProgressLocked()
	}
	if opts.NoAutoplay {
		return nil
	}
	if err := p.backend.Play(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	p.setStateLocked(StatePlaying)
	return nil
}

func (p *TrackPlayer) loadLocked(ctx context.Context, src *media.MediaSource, quality media.Quality, opts PlayOptions) error {
	source := audio.Source{URL: src.URL, Headers: src.Headers}
	if err := p.backend.Load(ctx, source); err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	p.loaded = &source
	p.ended = false
	if p.quality != quality {
		p.quality = quality
		p.publishLocked(Event{Kind: EventQuality, Quality: quality})
	}
	if opts.SeekTo > 0 {
		if err := p.backend.Seek(opts.SeekTo); err != nil {
			p.logger.Debug("initial seek failed", "error", err)
		}
		p.progress.CurrentTime = opts.SeekTo
		p.publishProgressLocked()
	}
	if opts.NoAutoplay {
		p.setStateLocked(StatePaused)
		return nil
	}
	if err := p.backend.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	p.setStateLocked(StatePlaying)
	return nil
}

// fetchMediaSource resolves a source trying qualities in fallback order.
// A downloaded copy that still exists wins without any plugin call.
func (p *TrackPlayer) fetchMediaSource(ctx context.Context, item media.MusicItem, quality media.Quality) (*media.MediaSource, media.Quality, error) {
	if d := item.Downloaded; d != nil && d.Path != "" && p.opts.Files != nil && p.opts.Files.Exists(d.Path) {
		q := d.Quality
		if !q.Valid() {
			q = quality
		}
		return &media.MediaSource{URL: fileURL(d.Path), Quality: q}, q, nil
	}

	methods := p.methods(item.Platform)
	if methods == nil {
		return nil, "", fmt.Errorf("%s: %w", item.Platform, media.ErrPluginNotFound)
	}
	var lastErr error
	for _, q := range media.QualityOrder(quality, p.opts.WhenQualityMissing) {
		src, err := methods.GetMediaSource(ctx, item, q, p.opts.Retries, false)
		if err == nil && src != nil && src.URL != "" {
			return src, q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = media.ErrNoSource
	}
	return nil, "", lastErr
}

// enrich merges plugin metadata into the current item in the background.
func (p *TrackPlayer) enrich(item media.MusicItem, seq uint64) {
	methods := p.methods(item.Platform)
	if methods == nil {
		return
	}
	p.goAsync(func(ctx context.Context) {
		patch := methods.GetMusicInfo(ctx, item)
		if patch == nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.seq != seq || p.item == nil {
			return
		}
		merged := p.item.Merge(*patch)
		p.item = &merged
		p.queue.Replace(merged)
		p.publishCurrentLocked()
		p.persistLocked(KeyCurrent, KeyQueue)
	})
}

func (p *TrackPlayer) loadLyric(item media.MusicItem) {
	p.goAsync(func(ctx context.Context) {
		cur := p.lyrics.Resolve(ctx, &item, false)
		p.publishLyric(cur)
	})
}

func (p *TrackPlayer) publishLyric(cur *lyric.Current) {
	var line *lyric.Line
	if cur != nil {
		if l, ok := cur.Parser.Line(cur.Line); ok {
			line = &l
		}
	}
	p.bus.Publish(Event{Kind: EventLyric, Lyric: line, Index: -1})
}

// fail raises an error event for item and applies the error policy.
func (p *TrackPlayer) fail(item media.MusicItem, reason error, allowSkip bool) {
	p.mu.Lock()
	p.progress = resetProgress()
	p.publishProgressLocked()
	p.setStateLocked(StatePaused)
	failed := item.Clone()
	p.publishLocked(Event{Kind: EventError, Item: &failed, Index: p.index, Error: reason.Error()})
	skip := allowSkip && p.opts.ErrorPolicy == PolicySkip && p.queue.Len() > 1
	p.mu.Unlock()

	p.logger.Warn("playback failed", "platform", item.Platform, "id", item.ID, "error", reason)
	if !skip {
		return
	}
	p.goAsync(func(ctx context.Context) {
		timer := time.NewTimer(p.opts.SkipDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.mu.Lock()
		still := p.item != nil && p.item.Identity() == item.Identity()
		p.mu.Unlock()
		if still {
			_ = p.SkipNext(ctx)
		}
	})
}

// SkipNext plays the next entry.
func (p *TrackPlayer) SkipNext(ctx context.Context) error {
	p.mu.Lock()
	next := p.index + 1
	p.mu.Unlock()
	return p.PlayIndex(ctx, next, PlayOptions{})
}

// SkipPrev plays the previous entry.
func (p *TrackPlayer) SkipPrev(ctx context.Context) error {
	p.mu.Lock()
	prev := p.index - 1
	if p.index < 0 {
		prev = 0
	}
	p.mu.Unlock()
	return p.PlayIndex(ctx, prev, PlayOptions{})
}

// Pause pauses playback.
func (p *TrackPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil {
		return nil
	}
	if err := p.backend.Pause(); err != nil {
		return err
	}
	p.setStateLocked(StatePaused)
	return nil
}

// Resume continues playback, resolving a source when none is loaded.
func (p *TrackPlayer) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.item == nil {
		p.mu.Unlock()
		return nil
	}
	if p.loaded == nil {
		idx, at := p.index, p.progress.CurrentTime
		p.mu.Unlock()
		return p.PlayIndex(ctx, idx, PlayOptions{Refresh: true, SeekTo: at})
	}
	defer p.mu.Unlock()
	return p.restartLocked(ctx, PlayOptions{})
}

// Seek jumps to seconds in the current track.
func (p *TrackPlayer) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	p.mu.Lock()
	if p.item == nil {
		p.mu.Unlock()
		return nil
	}
	if err := p.backend.Seek(seconds); err != nil {
		p.mu.Unlock()
		return err
	}
	p.progress.CurrentTime = seconds
	p.publishProgressLocked()
	p.persistLocked(KeyProgress)
	p.mu.Unlock()

	if line, changed := p.lyrics.Update(seconds); changed {
		p.bus.Publish(Event{Kind: EventLyric, Lyric: &line, Index: -1})
	}
	return nil
}

// SetRepeatMode switches the repeat mode. Entering shuffle permutes the
// queue; leaving it restores insertion order.
func (p *TrackPlayer) SetRepeatMode(mode RepeatMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.repeat
	if prev == mode {
		return
	}
	p.repeat = mode
	switch {
	case mode == RepeatShuffle:
		p.queue.Shuffle()
	case prev == RepeatShuffle:
		p.queue.Unshuffle()
	}
	p.syncIndexLocked()
	p.publishLocked(Event{Kind: EventRepeatMode, RepeatMode: mode})
	if mode == RepeatShuffle || prev == RepeatShuffle {
		p.publishQueueLocked()
	}
	p.persistLocked(KeyRepeatMode, KeyQueue)
}

// RepeatMode returns the repeat mode.
func (p *TrackPlayer) RepeatMode() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// SetQuality switches the current item to quality, keeping the position.
// The previous quality stays when the new one cannot be resolved.
func (p *TrackPlayer) SetQuality(ctx context.Context, quality media.Quality) error {
	if !quality.Valid() {
		return fmt.Errorf("unknown quality %q", quality)
	}
	p.mu.Lock()
	if p.quality == quality {
		p.mu.Unlock()
		return nil
	}
	if p.item == nil {
		p.quality = quality
		p.publishLocked(Event{Kind: EventQuality, Quality: quality})
		p.persistLocked(KeyQuality)
		p.mu.Unlock()
		return nil
	}
	item, seq := p.item.Clone(), p.seq
	p.mu.Unlock()

	methods := p.methods(item.Platform)
	if methods == nil {
		return media.ErrPluginNotFound
	}
	src, err := methods.GetMediaSource(ctx, item, quality, p.opts.Retries, false)
	if err != nil {
		return err
	}
	if src == nil || src.URL == "" {
		return media.ErrNoSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq != seq {
		return nil
	}
	at := p.progress.CurrentTime
	if err := p.loadLocked(ctx, src, quality, PlayOptions{SeekTo: at, NoAutoplay: p.state != StatePlaying}); err != nil {
		return err
	}
	p.persistLocked(KeyQuality, KeyProgress)
	return nil
}

// Quality returns the current quality.
func (p *TrackPlayer) Quality() media.Quality {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quality
}

// SetVolume sets the output volume in [0, 1].
func (p *TrackPlayer) SetVolume(volume float64) error {
	volume = math.Max(0, math.Min(1, volume))
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.backend.SetVolume(volume); err != nil {
		return err
	}
	p.volume = volume
	p.publishLocked(Event{Kind: EventVolume, Volume: volume})
	p.persistLocked(KeyVolume)
	return nil
}

// SetSpeed sets the playback rate.
func (p *TrackPlayer) SetSpeed(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid speed %v", rate)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.backend.SetSpeed(rate); err != nil {
		return err
	}
	p.speed = rate
	p.publishLocked(Event{Kind: EventSpeed, Speed: rate})
	p.persistLocked(KeySpeed)
	return nil
}

// AddNext queues items right after the current item.
func (p *TrackPlayer) AddNext(items []media.MusicItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.AddNext(items, p.index)
	p.syncIndexLocked()
	p.publishQueueLocked()
	p.persistLocked(KeyQueue)
}

// AddToEnd queues items at the end.
func (p *TrackPlayer) AddToEnd(items []media.MusicItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Append(items)
	p.syncIndexLocked()
	p.publishQueueLocked()
	p.persistLocked(KeyQueue)
}

// RemoveMusic removes items from the queue. Removing the current item
// resets playback in the same step.
func (p *TrackPlayer) RemoveMusic(items ...media.MusicItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removesCurrent := false
	if p.item != nil {
		for _, it := range items {
			if it.Identity() == p.item.Identity() {
				removesCurrent = true
				break
			}
		}
	}
	if p.queue.Remove(items...) == 0 {
		return
	}
	p.afterRemoveLocked(removesCurrent)
}

// RemoveIndex removes the entry at i.
func (p *TrackPlayer) RemoveIndex(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queue.RemoveAt(i); !ok {
		return
	}
	p.afterRemoveLocked(i == p.index)
}

func (p *TrackPlayer) afterRemoveLocked(removesCurrent bool) {
	if removesCurrent || p.queue.Len() == 0 {
		p.resetLocked()
	} else {
		p.syncIndexLocked()
	}
	p.publishQueueLocked()
	p.persistLocked(KeyQueue, KeyCurrent, KeyProgress)
}

// Reset clears the queue and stops playback.
func (p *TrackPlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Clear()
	p.resetLocked()
	p.publishQueueLocked()
	p.persistLocked(KeyQueue, KeyCurrent, KeyProgress)
}

// resetLocked stops audio and clears the current item.
func (p *TrackPlayer) resetLocked() {
	p.stopBackendLocked()
	p.setCurrentLocked(-1, nil)
	p.setStateLocked(StateNone)
	p.lyrics.Clear()
}

func (p *TrackPlayer) stopBackendLocked() {
	if err := p.backend.Stop(); err != nil {
		p.logger.Debug("stop audio failed", "error", err)
	}
	p.loaded = nil
	p.ended = false
}

// SetLyricOffset changes the lyric offset and reloads the lyric.
func (p *TrackPlayer) SetLyricOffset(ctx context.Context, seconds float64) {
	cur := p.lyrics.SetOffset(ctx, seconds)
	p.publishLyric(cur)
}

// LinkLyric redirects the lyric of from to target's lyric.
func (p *TrackPlayer) LinkLyric(ctx context.Context, from, target media.MusicItem) error {
	if err := p.lyrics.Link(ctx, from, target); err != nil {
		return err
	}
	p.publishLyric(p.lyrics.Current())
	return nil
}

// UnlinkLyric removes the lyric redirection of from.
func (p *TrackPlayer) UnlinkLyric(ctx context.Context, from media.MusicItem) error {
	if err := p.lyrics.Unlink(ctx, from); err != nil {
		return err
	}
	p.publishLyric(p.lyrics.Current())
	return nil
}

// HandleProgress receives position updates from the audio engine.
func (p *TrackPlayer) HandleProgress(current, duration float64) {
	p.mu.Lock()
	if p.item == nil {
		p.mu.Unlock()
		return
	}
	if duration <= 0 || math.IsNaN(duration) {
		duration = math.Inf(1)
	}
	p.progress = Progress{CurrentTime: current, Duration: duration}
	p.publishProgressLocked()
	if now := time.Now(); now.Sub(p.lastPersist) >= progressPersistStep {
		p.lastPersist = now
		p.persistLocked(KeyProgress)
	}
	p.mu.Unlock()

	if line, changed := p.lyrics.Update(current); changed {
		p.bus.Publish(Event{Kind: EventLyric, Lyric: &line, Index: -1})
	}
}

// HandleEnded receives the natural end of a track.
func (p *TrackPlayer) HandleEnded() {
	p.mu.Lock()
	if p.item == nil {
		p.mu.Unlock()
		return
	}
	p.progress = resetProgress()
	p.publishProgressLocked()
	p.ended = true
	mode, idx := p.repeat, p.index
	p.mu.Unlock()

	p.goAsync(func(ctx context.Context) {
		var err error
		if mode == RepeatLoop {
			err = p.PlayIndex(ctx, idx, PlayOptions{RestartOnSameMedia: true})
		} else {
			err = p.PlayIndex(ctx, idx+1, PlayOptions{})
		}
		if err != nil {
			p.logger.Debug("advance after end failed", "error", err)
		}
	})
}

// HandleError receives playback failures from the audio engine.
func (p *TrackPlayer) HandleError(err error) {
	item := p.CurrentItem()
	if item == nil {
		return
	}
	p.mu.Lock()
	p.stopBackendLocked()
	p.mu.Unlock()
	p.fail(*item, err, true)
}

// Restore reads persisted state and resolves a fresh source for the
// restored item without starting playback.
func (p *TrackPlayer) Restore(ctx context.Context) error {
	if p.opts.Prefs == nil {
		return nil
	}
	var (
		entries  []queue.Entry
		current  *media.MusicItem
		progress Progress
		volume   = 1.0
		speed    = 1.0
		quality  media.Quality
		repeat   RepeatMode
	)
	loads := []struct {
		key string
		out any
	}{
		{KeyQueue, &entries},
		{KeyCurrent, &current},
		{KeyProgress, &progress},
		{KeyVolume, &volume},
		{KeySpeed, &speed},
		{KeyQuality, &quality},
		{KeyRepeatMode, &repeat},
	}
	var errs []error
	for _, l := range loads {
		if _, err := p.opts.Prefs.Load(ctx, l.key, l.out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.key, err))
		}
	}

	p.mu.Lock()
	p.queue.Restore(entries)
	if _, err := ParseRepeatMode(string(repeat)); err == nil {
		p.repeat = repeat
	}
	if quality.Valid() {
		p.quality = quality
	}
	p.volume = math.Max(0, math.Min(1, volume))
	if speed > 0 {
		p.speed = speed
	}
	_ = p.backend.SetVolume(p.volume)
	_ = p.backend.SetSpeed(p.speed)
	idx := -1
	if current != nil {
		idx = p.queue.IndexOf(*current)
	}
	p.publishQueueLocked()
	p.publishLocked(Event{Kind: EventRepeatMode, RepeatMode: p.repeat})
	p.publishLocked(Event{Kind: EventVolume, Volume: p.volume})
	p.publishLocked(Event{Kind: EventSpeed, Speed: p.speed})
	quality = p.quality
	p.mu.Unlock()

	if idx >= 0 {
		if err := p.playIndex(ctx, idx, PlayOptions{Refresh: true, NoAutoplay: true, SeekTo: progress.CurrentTime, Quality: quality}, false); err != nil {
			p.logger.Warn("restore media source failed", "id", current.ID, "error", err)
		}
	}
	return errors.Join(errs...)
}

func (p *TrackPlayer) setCurrentLocked(index int, item *media.MusicItem) {
	p.seq++
	if item == nil || p.item == nil || item.Identity() != p.item.Identity() {
		p.lyrics.Clear()
	}
	p.index = index
	p.item = item
	p.loaded = nil
	p.ended = false
	p.progress = resetProgress()
	if item != nil && item.Duration > 0 {
		p.progress.Duration = item.Duration
	}
	p.publishCurrentLocked()
	p.publishProgressLocked()
}

func (p *TrackPlayer) setStateLocked(state State) {
	if p.state == state {
		return
	}
	p.state = state
	p.publishLocked(Event{Kind: EventState, State: state, Index: p.index})
}

// syncIndexLocked recomputes the current index by identity after the queue
// changed.
func (p *TrackPlayer) syncIndexLocked() {
	if p.item == nil {
		p.index = -1
		return
	}
	idx := p.queue.IndexOf(*p.item)
	if idx < 0 {
		p.resetLocked()
		return
	}
	if idx != p.index {
		p.index = idx
		p.publishCurrentLocked()
	}
}

func (p *TrackPlayer) publishLocked(ev Event) {
	p.bus.Publish(ev)
}

func (p *TrackPlayer) publishCurrentLocked() {
	var item *media.MusicItem
	if p.item != nil {
		c := p.item.Clone()
		item = &c
	}
	p.publishLocked(Event{Kind: EventCurrent, Item: item, Index: p.index})
}

func (p *TrackPlayer) publishQueueLocked() {
	p.publishLocked(Event{Kind: EventQueue, Queue: p.queue.Items(), Index: p.index})
}

func (p *TrackPlayer) publishProgressLocked() {
	progress := p.progress
	p.publishLocked(Event{Kind: EventProgress, Progress: &progress, Index: p.index})
}

func (p *TrackPlayer) persistLocked(keys ...string) {
	values := make(map[string]any, len(keys))
	for _, key := range keys {
		switch key {
		case KeyQueue:
			values[key] = p.queue.Entries()
		case KeyCurrent:
			if p.item == nil {
				values[key] = nil
			} else {
				values[key] = p.item.Clone()
			}
		case KeyProgress:
			values[key] = p.progress
		case KeyVolume:
			values[key] = p.volume
		case KeySpeed:
			values[key] = p.speed
		case KeyQuality:
			values[key] = p.quality
		case KeyRepeatMode:
			values[key] = p.repeat
		}
	}
	p.persist.put(values)
}

func (p *TrackPlayer) methods(platform string) MediaResolver {
	if p.opts.Methods == nil {
		return nil
	}
	return p.opts.Methods(platform)
}

func (p *TrackPlayer) lyricFetcher(platform string) lyric.Fetcher {
	if m := p.methods(platform); m != nil {
		return m
	}
	return nil
}

func (p *TrackPlayer) goAsync(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
