package media

// SearchKind selects what a search or artist-works call returns.
type SearchKind string

const (
	KindMusic  SearchKind = "music"
	KindAlbum  SearchKind = "album"
	KindArtist SearchKind = "artist"
	KindSheet  SearchKind = "sheet"
)

// SearchResult is a normalized page of items. Exactly one item slice is
// populated, selected by Kind.
type SearchResult struct {
	Kind    SearchKind   `json:"kind"`
	IsEnd   bool         `json:"isEnd"`
	Music   []MusicItem  `json:"music,omitempty"`
	Albums  []AlbumItem  `json:"albums,omitempty"`
	Artists []ArtistItem `json:"artists,omitempty"`
	Sheets  []SheetItem  `json:"sheets,omitempty"`
}

// Len returns the number of items in the populated slice.
func (r SearchResult) Len() int {
	return len(r.Music) + len(r.Albums) + len(r.Artists) + len(r.Sheets)
}

// MediaSource is a resolved playable source.
type MediaSource struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Quality   Quality           `json:"quality,omitempty"`
}

// LyricSource is lyric text (or a link to it) for one item.
type LyricSource struct {
	RawLrc      string `json:"rawLrc,omitempty"`
	Lrc         string `json:"lrc,omitempty"`
	Translation string `json:"translation,omitempty"`
}

// Empty reports whether the source has no text and no link.
func (l LyricSource) Empty() bool {
	return l.RawLrc == "" && l.Lrc == ""
}

// AlbumDetail is one page of an album's tracks plus its header.
type AlbumDetail struct {
	IsEnd     bool        `json:"isEnd"`
	Album     AlbumItem   `json:"albumItem"`
	MusicList []MusicItem `json:"musicList"`
}

// SheetDetail is one page of a sheet's tracks plus its header.
type SheetDetail struct {
	IsEnd     bool        `json:"isEnd"`
	Sheet     SheetItem   `json:"sheetItem"`
	MusicList []MusicItem `json:"musicList"`
}

// TopListGroup groups top lists under a title.
type TopListGroup struct {
	Title string      `json:"title"`
	Data  []SheetItem `json:"data"`
}

// TagGroup groups recommendation tags under a title.
type TagGroup struct {
	Title string `json:"title"`
	Data  []Tag  `json:"data"`
}

// RecommendTags is the result of a recommendation tag listing.
type RecommendTags struct {
	Pinned []Tag      `json:"pinned"`
	Data   []TagGroup `json:"data"`
}
