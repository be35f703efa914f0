package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.senan.xyz/taglib"
)

// Name is the platform served by this plugin.
const Name = "local"

const pageSize = 30

var audioExts = []string{".mp3", ".flac", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".ape", ".wma"}

// TagReader reads embedded metadata of an audio file.
type TagReader interface {
	ReadTags(path string) (map[string][]string, error)
	ReadLength(path string) (time.Duration, error)
}

type taglibReader struct{}

func (taglibReader) ReadTags(path string) (map[string][]string, error) {
	return taglib.ReadTags(path)
}

func (taglibReader) ReadLength(path string) (time.Duration, error) {
	props, err := taglib.ReadProperties(path)
	if err != nil {
		return 0, err
	}
	return props.Length, nil
}

// LocalPlatform serves audio files below one directory. Item IDs are
// slash-separated paths relative to that directory.
type LocalPlatform struct {
	fs     afero.Fs
	root   string
	tags   TagReader
	logger core.Logger
}

// NewPlatform creates a LocalPlatform rooted at dir. A nil reader uses taglib.
func NewPlatform(fsys afero.Fs, dir string, tags TagReader, logger core.Logger) *LocalPlatform {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if tags == nil {
		tags = taglibReader{}
	}
	return &LocalPlatform{fs: fsys, root: filepath.Clean(dir), tags: tags, logger: logger}
}

// Search matches query against file paths and titles. Only music is searchable.
func (p *LocalPlatform) Search(ctx context.Context, query string, page int, kind string) (map[string]any, error) {
	if kind != "" && kind != string(media.KindMusic) {
		return map[string]any{"isEnd": true, "data": []any{}}, nil
	}
	files, err := p.audioFiles(ctx)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	matched := make([]media.MusicItem, 0)
	for _, rel := range files {
		item := p.describe(rel)
		haystack := strings.ToLower(rel + " " + item.Title + " " + item.Artist + " " + item.Album)
		if lo.EveryBy(terms, func(t string) bool { return strings.Contains(haystack, t) }) {
			matched = append(matched, item)
		}
	}

	if page < 1 {
		page = 1
	}
	start := min((page-1)*pageSize, len(matched))
	end := min(start+pageSize, len(matched))
	return map[string]any{
		"isEnd": end >= len(matched),
		"data":  matched[start:end],
	}, nil
}

// MusicInfo reads the tags of the file behind item.
func (p *LocalPlatform) MusicInfo(ctx context.Context, item media.MusicItem) (*media.MusicItem, error) {
	rel, err := p.locate(item)
	if err != nil {
		return nil, err
	}
	info := p.describe(rel)
	return &info, nil
}

// Lyric returns the embedded lyric, or the text of a sidecar .lrc file.
func (p *LocalPlatform) Lyric(ctx context.Context, item media.MusicItem) (*media.LyricSource, error) {
	rel, err := p.locate(item)
	if err != nil {
		return nil, err
	}
	if tags, err := p.tags.ReadTags(p.abs(rel)); err == nil {
		if text := firstTag(tags, "LYRICS", "UNSYNCEDLYRICS"); text != "" {
			return &media.LyricSource{RawLrc: text}, nil
		}
	}
	sidecar := strings.TrimSuffix(p.abs(rel), path.Ext(rel)) + ".lrc"
	data, err := afero.ReadFile(p.fs, sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sidecar, err)
	}
	lrc := strings.TrimPrefix(string(data), "\ufeff")
	return &media.LyricSource{RawLrc: lrc}, nil
}

// MediaSource returns a file URL. Files have one quality only.
func (p *LocalPlatform) MediaSource(ctx context.Context, item media.MusicItem, quality string) (map[string]any, error) {
	rel, err := p.locate(item)
	if errors.Is(err, media.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", media.ErrNoRetry, err)
	}
	if err != nil {
		return nil, err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p.abs(rel))}
	return map[string]any{"url": u.String(), "quality": quality}, nil
}

// ImportSheet reads an m3u playlist. Entries are resolved against the
// playlist's own directory and must lie below the library root.
func (p *LocalPlatform) ImportSheet(ctx context.Context, playlist string) ([]media.MusicItem, error) {
	file := playlist
	if !filepath.IsAbs(file) {
		file = filepath.Join(p.root, filepath.FromSlash(file))
	}
	data, err := afero.ReadFile(p.fs, file)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	base := filepath.Dir(file)

	var items []media.MusicItem
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry := filepath.FromSlash(line)
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(base, entry)
		}
		rel, err := filepath.Rel(p.root, entry)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := afero.Exists(p.fs, entry); !ok || !isAudio(rel) {
			continue
		}
		items = append(items, p.describe(rel))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	return items, nil
}

// Methods exposes the platform as plugin capabilities.
func (p *LocalPlatform) Methods() map[plugin.Capability]plugin.Method {
	return map[plugin.Capability]plugin.Method{
		plugin.CapSearch: func(ctx context.Context, args ...any) (any, error) {
			return p.Search(ctx, argString(args, 0), argInt(args, 1), argString(args, 2))
		},
		plugin.CapGetMusicInfo: func(ctx context.Context, args ...any) (any, error) {
			return p.MusicInfo(ctx, argItem(args, 0))
		},
		plugin.CapGetLyric: func(ctx context.Context, args ...any) (any, error) {
			return p.Lyric(ctx, argItem(args, 0))
		},
		plugin.CapGetMediaSource: func(ctx context.Context, args ...any) (any, error) {
			return p.MediaSource(ctx, argItem(args, 0), argString(args, 1))
		},
		plugin.CapImportMusicSheet: func(ctx context.Context, args ...any) (any, error) {
			return p.ImportSheet(ctx, argString(args, 0))
		},
	}
}

func (p *LocalPlatform) audioFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := afero.Walk(p.fs, p.root, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			if name == p.root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, name)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if isAudio(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.root, err)
	}
	slices.Sort(files)
	return files, nil
}

// describe builds an item from tags, falling back to the file name.
func (p *LocalPlatform) describe(rel string) media.MusicItem {
	item := media.MusicItem{
		Platform: Name,
		ID:       rel,
		Title:    strings.TrimSuffix(path.Base(rel), path.Ext(rel)),
	}
	abs := p.abs(rel)
	tags, err := p.tags.ReadTags(abs)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("read tags failed", "file", rel, "error", err)
		}
		return item
	}
	if v := firstTag(tags, taglib.Title); v != "" {
		item.Title = v
	}
	item.Artist = firstTag(tags, taglib.Artist, taglib.AlbumArtist)
	item.Album = firstTag(tags, taglib.Album)
	if length, err := p.tags.ReadLength(abs); err == nil && length > 0 {
		item.Duration = length.Seconds()
	}
	return item
}

// locate maps an item to a file below the root.
func (p *LocalPlatform) locate(item media.MusicItem) (string, error) {
	rel := path.Clean("/" + item.ID)[1:]
	if rel == "" || !isAudio(rel) {
		return "", media.NewNotFoundError(Name, "open "+item.ID)
	}
	ok, err := afero.Exists(p.fs, p.abs(rel))
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if !ok {
		return "", media.NewNotFoundError(Name, "open "+item.ID)
	}
	return rel, nil
}

func (p *LocalPlatform) abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func isAudio(name string) bool {
	return slices.Contains(audioExts, strings.ToLower(path.Ext(name)))
}

func firstTag(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, v := range tags[key] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func argString(args []any, i int) string {
	if i >= len(args) || args[i] == nil {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprint(args[i])
}

func argInt(args []any, i int) int {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func argItem(args []any, i int) media.MusicItem {
	var item media.MusicItem
	if i < len(args) && args[i] != nil {
		_ = media.Decode(args[i], &item)
	}
	return item
}
