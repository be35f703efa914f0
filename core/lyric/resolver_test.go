package lyric

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	lyrics map[string]string
	calls  int
	hook   func()
	panics bool
}

func (f *fakeFetcher) GetLyric(ctx context.Context, item media.MusicItem) *media.LyricSource {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	f.mu.Unlock()
	if f.panics {
		panic("broken fetcher")
	}
	if hook != nil {
		hook()
	}
	text, ok := f.lyrics[item.ID]
	if !ok {
		return nil
	}
	return &media.LyricSource{RawLrc: text}
}

type fakeLinks struct {
	links map[media.Identity]media.MusicItem
	err   error
}

func (l *fakeLinks) LinkedLyric(ctx context.Context, from media.Identity) (*media.MusicItem, error) {
	if l.err != nil {
		return nil, l.err
	}
	if target, ok := l.links[from]; ok {
		return &target, nil
	}
	return nil, nil
}

func (l *fakeLinks) LinkLyric(ctx context.Context, from media.Identity, target media.MusicItem) error {
	l.links[from] = target
	return nil
}

func (l *fakeLinks) UnlinkLyric(ctx context.Context, from media.Identity) error {
	delete(l.links, from)
	return nil
}

type harness struct {
	mu       sync.Mutex
	current  *media.MusicItem
	progress float64
}

func (h *harness) item() *media.MusicItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *harness) set(it *media.MusicItem) {
	h.mu.Lock()
	h.current = it
	h.mu.Unlock()
}

func newResolver(h *harness, f *fakeFetcher, links *fakeLinks) *Resolver {
	opts := Options{
		Lookup: func(platform string) Fetcher {
			if platform != "p" {
				return nil
			}
			return f
		},
		CurrentItem: h.item,
		Progress:    func() float64 { return h.progress },
	}
	if links != nil {
		opts.Links = links
	}
	return NewResolver(opts)
}

func TestResolveCachesPerItem(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	h := &harness{current: &a, progress: 2.5}
	f := &fakeFetcher{lyrics: map[string]string{"a": "[00:01.00]x\n[00:02.00]y\n[00:03.00]z"}}
	r := newResolver(h, f, nil)

	cur := r.Resolve(context.Background(), &a, false)
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.Line)

	r.Resolve(context.Background(), &a, false)
	assert.Equal(t, 1, f.calls)

	r.Resolve(context.Background(), &a, true)
	assert.Equal(t, 2, f.calls)
}

func TestResolvePrefersLinkedLyric(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	b := media.MusicItem{Platform: "p", ID: "b"}
	h := &harness{current: &a}
	f := &fakeFetcher{lyrics: map[string]string{"a": "[00:01.00]own", "b": "[00:01.00]linked"}}
	links := &fakeLinks{links: map[media.Identity]media.MusicItem{a.Identity(): b}}
	r := newResolver(h, f, links)

	cur := r.Resolve(context.Background(), &a, false)
	require.NotNil(t, cur)
	line, _ := cur.Parser.Line(0)
	assert.Equal(t, "linked", line.Text)
	assert.Equal(t, a.Identity(), cur.Parser.Identity())

	require.NoError(t, r.Unlink(context.Background(), a))
	cur = r.Current()
	require.NotNil(t, cur)
	line, _ = cur.Parser.Line(0)
	assert.Equal(t, "own", line.Text)
}

func TestResolveFallsBackWhenLinkFails(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	h := &harness{current: &a}
	f := &fakeFetcher{lyrics: map[string]string{"a": "[00:01.00]own"}}
	r := newResolver(h, f, &fakeLinks{err: errors.New("db down")})

	require.NotNil(t, r.Resolve(context.Background(), &a, false))
}

func TestResolveDiscardsStaleResult(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	b := media.MusicItem{Platform: "p", ID: "b"}
	h := &harness{current: &a}
	f := &fakeFetcher{lyrics: map[string]string{"a": "[00:01.00]x"}}
	f.hook = func() { h.set(&b) }
	r := newResolver(h, f, nil)

	assert.Nil(t, r.Resolve(context.Background(), &a, false))
	assert.Nil(t, r.Current())
}

func TestResolveFailureYieldsNoLyric(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	h := &harness{current: &a}
	r := newResolver(h, &fakeFetcher{panics: true}, nil)
	assert.Nil(t, r.Resolve(context.Background(), &a, false))

	other := media.MusicItem{Platform: "unknown", ID: "x", RawLrc: "[00:01.00]inline"}
	h.set(&other)
	cur := r.Resolve(context.Background(), &other, false)
	require.NotNil(t, cur)
	assert.Len(t, cur.Parser.Lines(), 1)
}

func TestUpdateAndOffset(t *testing.T) {
	a := media.MusicItem{Platform: "p", ID: "a"}
	h := &harness{current: &a}
	f := &fakeFetcher{lyrics: map[string]string{"a": "[00:01.00]x\n[00:02.00]y"}}
	r := newResolver(h, f, nil)
	require.NotNil(t, r.Resolve(context.Background(), &a, false))

	line, changed := r.Update(1.2)
	assert.True(t, changed)
	assert.Equal(t, "x", line.Text)
	_, changed = r.Update(1.4)
	assert.False(t, changed)

	cur := r.SetOffset(context.Background(), 0.5)
	require.NotNil(t, cur)
	assert.InDelta(t, 0.5, cur.Parser.Lines()[0].Time, 1e-9)
	assert.Equal(t, 0.5, r.Offset())
}
