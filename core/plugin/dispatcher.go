package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/media"
)

// DefaultRetryDelay is the pause between media source attempts.
const DefaultRetryDelay = 150 * time.Millisecond

// mediaCacheEnabled gates the media source cache. The cache is not part of
// this build, so skipCacheUpdate has nothing to skip.
const mediaCacheEnabled = false

// Dispatcher is the uniform, fault-tolerant call surface of one plugin.
// Every method returns a typed empty result instead of failing when the
// plugin lacks the capability or the call errors.
type Dispatcher struct {
	plugin  *Plugin
	http    *HTTPClient
	logger  core.Logger
	timeout time.Duration
	backoff func(attempt int) time.Duration
}

func newDispatcher(p *Plugin, client *HTTPClient, logger core.Logger, timeout time.Duration, backoff func(int) time.Duration) *Dispatcher {
	if backoff == nil {
		backoff = func(int) time.Duration { return DefaultRetryDelay }
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{plugin: p, http: client, logger: logger, timeout: timeout, backoff: backoff}
}

func (d *Dispatcher) platform() string {
	return d.plugin.Name
}

func (d *Dispatcher) supports(c Capability) bool {
	return d.plugin.Instance != nil && d.plugin.Instance.Supports(c)
}

func (d *Dispatcher) call(ctx context.Context, c Capability, args ...any) (any, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	value, err := d.plugin.Instance.Call(ctx, c, args...)
	if err != nil {
		return nil, &media.PluginError{Platform: d.platform(), Method: string(c), Err: err}
	}
	return value, nil
}

func (d *Dispatcher) warn(c Capability, err error) {
	d.logger.Warn("plugin call failed", "method", string(c), "error", err)
}

// Search returns one page of results of the given kind.
func (d *Dispatcher) Search(ctx context.Context, query string, page int, kind media.SearchKind) media.SearchResult {
	kind = normalizeKind(kind)
	empty := media.SearchResult{Kind: kind, IsEnd: true}
	if !d.supports(CapSearch) {
		return empty
	}
	raw, err := d.call(ctx, CapSearch, query, page, string(kind))
	if err != nil {
		d.warn(CapSearch, err)
		return empty
	}
	return d.decodePage(raw, kind)
}

// GetMediaSource resolves a playable source for item at quality. Failed
// attempts are retried up to retries more times unless the plugin marks the
// failure as not retryable.
func (d *Dispatcher) GetMediaSource(ctx context.Context, item media.MusicItem, quality media.Quality, retries int, skipCacheUpdate bool) (*media.MediaSource, error) {
	if !d.supports(CapGetMediaSource) {
		url := item.URL
		if info, ok := item.Qualities[quality]; ok && info.URL != "" {
			url = info.URL
		}
		if url == "" {
			return nil, media.NewUnsupportedError(d.platform(), string(CapGetMediaSource))
		}
		return &media.MediaSource{URL: url, Quality: quality}, nil
	}
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		src, err := d.mediaSourceOnce(ctx, item, quality)
		if err == nil {
			if !skipCacheUpdate && mediaCacheEnabled {
				d.logger.Debug("media source cached", "id", item.ID, "quality", string(quality))
			}
			return src, nil
		}
		lastErr = err
		d.logger.Debug("media source attempt failed", "id", item.ID, "quality", string(quality), "attempt", attempt, "error", err)
		if errors.Is(err, media.ErrNoRetry) || attempt == retries {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		timer := time.NewTimer(d.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			return nil, lastErr
		case <-timer.C:
		}
	}
	d.warn(CapGetMediaSource, lastErr)
	return nil, lastErr
}

func (d *Dispatcher) mediaSourceOnce(ctx context.Context, item media.MusicItem, quality media.Quality) (*media.MediaSource, error) {
	raw, err := d.call(ctx, CapGetMediaSource, media.ToMap(item), string(quality))
	if err != nil {
		return nil, err
	}
	var src media.MediaSource
	if raw != nil {
		if err := media.Decode(raw, &src); err != nil {
			return nil, err
		}
	} else if info, ok := item.Qualities[quality]; ok {
		src.URL = info.URL
	}
	if src.URL == "" {
		return nil, media.ErrNoSource
	}
	if src.UserAgent != "" {
		if src.Headers == nil {
			src.Headers = make(map[string]string)
		}
		if _, ok := src.Headers["user-agent"]; !ok {
			src.Headers["user-agent"] = src.UserAgent
		}
	}
	if src.Quality == "" {
		src.Quality = quality
	}
	return &src, nil
}

// GetMusicInfo returns a partial item to merge over item, or nil.
func (d *Dispatcher) GetMusicInfo(ctx context.Context, item media.MusicItem) *media.MusicItem {
	if !d.supports(CapGetMusicInfo) {
		return nil
	}
	raw, err := d.call(ctx, CapGetMusicInfo, media.ToMap(item))
	if err != nil {
		d.warn(CapGetMusicInfo, err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var patch media.MusicItem
	if err := media.Decode(raw, &patch); err != nil {
		d.warn(CapGetMusicInfo, err)
		return nil
	}
	patch.Platform = d.platform()
	patch.ID = item.ID
	return &patch
}

// GetLyric returns lyric text for item. Text carried by the item wins; a
// lyric link returned without text is fetched. Nil when nothing is found.
func (d *Dispatcher) GetLyric(ctx context.Context, item media.MusicItem) *media.LyricSource {
	if item.RawLrc != "" {
		return &media.LyricSource{RawLrc: item.RawLrc}
	}
	var src media.LyricSource
	if d.supports(CapGetLyric) {
		raw, err := d.call(ctx, CapGetLyric, media.ToMap(item))
		if err != nil {
			d.warn(CapGetLyric, err)
		} else if raw != nil {
			if err := media.Decode(raw, &src); err != nil {
				d.warn(CapGetLyric, err)
			}
		}
	}
	if src.Lrc == "" {
		src.Lrc = item.Lrc
	}
	if src.RawLrc == "" && src.Lrc != "" && d.http != nil && isRemote(src.Lrc) {
		text, err := d.http.GetText(ctx, src.Lrc)
		if err != nil {
			d.logger.Debug("fetch lyric link failed", "url", src.Lrc, "error", err)
		} else {
			src.RawLrc = text
		}
	}
	if src.RawLrc == "" && src.Translation == "" {
		return nil
	}
	return &src
}

// GetAlbumInfo returns one page of an album. The header is only merged on
// the first page; later pages echo the seed album.
func (d *Dispatcher) GetAlbumInfo(ctx context.Context, album media.AlbumItem, page int) *media.AlbumDetail {
	if !d.supports(CapGetAlbumInfo) {
		return &media.AlbumDetail{IsEnd: true, Album: album, MusicList: []media.MusicItem{}}
	}
	raw, err := d.call(ctx, CapGetAlbumInfo, media.ToMap(album), page)
	if err != nil {
		d.warn(CapGetAlbumInfo, err)
		return nil
	}
	doc, err := decodeDetail(raw, "albumItem")
	if err != nil {
		d.warn(CapGetAlbumInfo, err)
		return nil
	}
	out := &media.AlbumDetail{IsEnd: doc.isEnd, Album: album, MusicList: d.stampMusic(doc.list)}
	if page <= 1 && doc.header != nil {
		if err := media.Decode(mergeHeader(album, doc.header), &out.Album); err != nil {
			out.Album = album
		}
		out.Album.Platform = d.platform()
		out.Album.ID = album.ID
	}
	return out
}

// GetMusicSheetInfo returns one page of a sheet, merged like GetAlbumInfo.
func (d *Dispatcher) GetMusicSheetInfo(ctx context.Context, sheet media.SheetItem, page int) *media.SheetDetail {
	if !d.supports(CapGetMusicSheetInfo) {
		return &media.SheetDetail{IsEnd: true, Sheet: sheet, MusicList: []media.MusicItem{}}
	}
	raw, err := d.call(ctx, CapGetMusicSheetInfo, media.ToMap(sheet), page)
	if err != nil {
		d.warn(CapGetMusicSheetInfo, err)
		return nil
	}
	return d.sheetDetail(raw, "sheetItem", sheet, page, CapGetMusicSheetInfo)
}

// GetArtistWorks returns one page of an artist's works.
func (d *Dispatcher) GetArtistWorks(ctx context.Context, artist media.ArtistItem, page int, kind media.SearchKind) media.SearchResult {
	kind = normalizeKind(kind)
	empty := media.SearchResult{Kind: kind, IsEnd: true}
	if !d.supports(CapGetArtistWorks) {
		return empty
	}
	raw, err := d.call(ctx, CapGetArtistWorks, media.ToMap(artist), page, string(kind))
	if err != nil {
		d.warn(CapGetArtistWorks, err)
		return empty
	}
	return d.decodePage(raw, kind)
}

// ImportMusicSheet imports the tracks behind a share link.
func (d *Dispatcher) ImportMusicSheet(ctx context.Context, url string) []media.MusicItem {
	if !d.supports(CapImportMusicSheet) {
		return []media.MusicItem{}
	}
	raw, err := d.call(ctx, CapImportMusicSheet, url)
	if err != nil {
		d.warn(CapImportMusicSheet, err)
		return []media.MusicItem{}
	}
	var list []json.RawMessage
	if raw != nil {
		if err := media.Decode(raw, &list); err != nil {
			d.warn(CapImportMusicSheet, err)
		}
	}
	return d.stampMusic(list)
}

// ImportMusicItem imports the single track behind a share link.
func (d *Dispatcher) ImportMusicItem(ctx context.Context, url string) *media.MusicItem {
	if !d.supports(CapImportMusicItem) {
		return nil
	}
	raw, err := d.call(ctx, CapImportMusicItem, url)
	if err != nil {
		d.warn(CapImportMusicItem, err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var item media.MusicItem
	if err := media.Decode(raw, &item); err != nil {
		d.warn(CapImportMusicItem, err)
		return nil
	}
	item.Platform = d.platform()
	return &item
}

// GetTopLists returns the plugin's top list groups.
func (d *Dispatcher) GetTopLists(ctx context.Context) []media.TopListGroup {
	if !d.supports(CapGetTopLists) {
		return []media.TopListGroup{}
	}
	raw, err := d.call(ctx, CapGetTopLists)
	if err != nil {
		d.warn(CapGetTopLists, err)
		return []media.TopListGroup{}
	}
	var groups []media.TopListGroup
	if raw != nil {
		if err := media.Decode(raw, &groups); err != nil {
			d.warn(CapGetTopLists, err)
			return []media.TopListGroup{}
		}
	}
	for gi := range groups {
		for i := range groups[gi].Data {
			groups[gi].Data[i].Platform = d.platform()
		}
	}
	if groups == nil {
		groups = []media.TopListGroup{}
	}
	return groups
}

// GetTopListDetail returns one page of a top list.
func (d *Dispatcher) GetTopListDetail(ctx context.Context, list media.SheetItem, page int) *media.SheetDetail {
	if !d.supports(CapGetTopListDetail) {
		return &media.SheetDetail{IsEnd: true, Sheet: list, MusicList: []media.MusicItem{}}
	}
	raw, err := d.call(ctx, CapGetTopListDetail, media.ToMap(list), page)
	if err != nil {
		d.warn(CapGetTopListDetail, err)
		return &media.SheetDetail{IsEnd: true, Sheet: list, MusicList: []media.MusicItem{}}
	}
	return d.sheetDetail(raw, "topListItem", list, page, CapGetTopListDetail)
}

// GetRecommendSheetTags returns the plugin's sheet recommendation tags.
func (d *Dispatcher) GetRecommendSheetTags(ctx context.Context) media.RecommendTags {
	empty := media.RecommendTags{Pinned: []media.Tag{}, Data: []media.TagGroup{}}
	if !d.supports(CapGetRecommendSheetTags) {
		return empty
	}
	raw, err := d.call(ctx, CapGetRecommendSheetTags)
	if err != nil {
		d.warn(CapGetRecommendSheetTags, err)
		return empty
	}
	var tags media.RecommendTags
	if raw == nil {
		return empty
	}
	if err := media.Decode(raw, &tags); err != nil {
		d.warn(CapGetRecommendSheetTags, err)
		return empty
	}
	if tags.Pinned == nil {
		tags.Pinned = []media.Tag{}
	}
	if tags.Data == nil {
		tags.Data = []media.TagGroup{}
	}
	return tags
}

// GetRecommendSheetsByTag returns one page of sheets recommended under tag.
func (d *Dispatcher) GetRecommendSheetsByTag(ctx context.Context, tag media.Tag, page int) media.SearchResult {
	empty := media.SearchResult{Kind: media.KindSheet, IsEnd: true}
	if !d.supports(CapGetRecommendSheetsByTag) {
		return empty
	}
	raw, err := d.call(ctx, CapGetRecommendSheetsByTag, media.ToMap(tag), page)
	if err != nil {
		d.warn(CapGetRecommendSheetsByTag, err)
		return empty
	}
	return d.decodePage(raw, media.KindSheet)
}

func (d *Dispatcher) sheetDetail(raw any, headerKey string, seed media.SheetItem, page int, c Capability) *media.SheetDetail {
	doc, err := decodeDetail(raw, headerKey)
	if err != nil {
		d.warn(c, err)
		return &media.SheetDetail{IsEnd: true, Sheet: seed, MusicList: []media.MusicItem{}}
	}
	out := &media.SheetDetail{IsEnd: doc.isEnd, Sheet: seed, MusicList: d.stampMusic(doc.list)}
	if page <= 1 && doc.header != nil {
		if err := media.Decode(mergeHeader(seed, doc.header), &out.Sheet); err != nil {
			out.Sheet = seed
		}
		out.Sheet.Platform = d.platform()
		out.Sheet.ID = seed.ID
	}
	return out
}

// decodePage normalizes a {isEnd, data} page. Items that fail to decode are
// dropped; isEnd defaults to true.
func (d *Dispatcher) decodePage(raw any, kind media.SearchKind) media.SearchResult {
	out := media.SearchResult{Kind: kind, IsEnd: true}
	if raw == nil {
		return out
	}
	var doc struct {
		IsEnd *bool             `json:"isEnd"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := media.Decode(raw, &doc); err != nil {
		d.logger.Debug("malformed page", "kind", string(kind), "error", err)
		return out
	}
	if doc.IsEnd != nil {
		out.IsEnd = *doc.IsEnd
	}
	platform := d.platform()
	switch kind {
	case media.KindAlbum:
		out.Albums = make([]media.AlbumItem, 0, len(doc.Data))
		for _, data := range doc.Data {
			var it media.AlbumItem
			if json.Unmarshal(data, &it) == nil {
				it.Platform = platform
				out.Albums = append(out.Albums, it)
			}
		}
	case media.KindArtist:
		out.Artists = make([]media.ArtistItem, 0, len(doc.Data))
		for _, data := range doc.Data {
			var it media.ArtistItem
			if json.Unmarshal(data, &it) == nil {
				it.Platform = platform
				out.Artists = append(out.Artists, it)
			}
		}
	case media.KindSheet:
		out.Sheets = make([]media.SheetItem, 0, len(doc.Data))
		for _, data := range doc.Data {
			var it media.SheetItem
			if json.Unmarshal(data, &it) == nil {
				it.Platform = platform
				out.Sheets = append(out.Sheets, it)
			}
		}
	default:
		out.Music = d.stampMusic(doc.Data)
	}
	return out
}

func (d *Dispatcher) stampMusic(list []json.RawMessage) []media.MusicItem {
	out := make([]media.MusicItem, 0, len(list))
	for _, data := range list {
		var it media.MusicItem
		if err := json.Unmarshal(data, &it); err != nil {
			continue
		}
		it.Platform = d.platform()
		out = append(out, it)
	}
	return out
}

type detailDoc struct {
	isEnd  bool
	header map[string]any
	list   []json.RawMessage
}

func decodeDetail(raw any, headerKey string) (detailDoc, error) {
	doc := detailDoc{isEnd: true}
	if raw == nil {
		return doc, errors.New("plugin returned empty")
	}
	var fields map[string]json.RawMessage
	if err := media.Decode(raw, &fields); err != nil {
		return doc, err
	}
	if v, ok := fields["isEnd"]; ok {
		var end bool
		if json.Unmarshal(v, &end) == nil {
			doc.isEnd = end
		}
	}
	if v, ok := fields[headerKey]; ok {
		var header map[string]any
		if json.Unmarshal(v, &header) == nil {
			doc.header = header
		}
	}
	if v, ok := fields["musicList"]; ok {
		if err := json.Unmarshal(v, &doc.list); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func mergeHeader(seed any, header map[string]any) map[string]any {
	merged := media.ToMap(seed)
	for k, v := range header {
		if v != nil {
			merged[k] = v
		}
	}
	return merged
}

func normalizeKind(kind media.SearchKind) media.SearchKind {
	switch kind {
	case media.KindAlbum, media.KindArtist, media.KindSheet:
		return kind
	default:
		return media.KindMusic
	}
}

func isRemote(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
