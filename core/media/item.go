package media

// QualityInfo describes one quality tier an item advertises.
type QualityInfo struct {
	URL  string `json:"url,omitempty"`
	Size any    `json:"size,omitempty"`
}

// Download marks an item that has a locally downloaded copy.
type Download struct {
	Path    string  `json:"path"`
	Quality Quality `json:"quality,omitempty"`
}

// MusicItem is a playable media reference produced by a plugin.
type MusicItem struct {
	Platform   string                  `json:"platform"`
	ID         string                  `json:"id"`
	Title      string                  `json:"title,omitempty"`
	Artist     string                  `json:"artist,omitempty"`
	Album      string                  `json:"album,omitempty"`
	Artwork    string                  `json:"artwork,omitempty"`
	Duration   float64                 `json:"duration,omitempty"`
	URL        string                  `json:"url,omitempty"`
	Qualities  map[Quality]QualityInfo `json:"qualities,omitempty"`
	RawLrc     string                  `json:"rawLrc,omitempty"`
	Lrc        string                  `json:"lrc,omitempty"`
	Downloaded *Download               `json:"$downloaded,omitempty"`
	Extra      map[string]any          `json:"-"`
}

var musicItemKeys = []string{
	"platform", "id", "title", "artist", "album", "artwork", "duration",
	"url", "qualities", "rawLrc", "lrc", "$downloaded",
}

type musicItemFields MusicItem

// Identity returns the (platform, id) pair of the item.
func (m MusicItem) Identity() Identity {
	return Identity{Platform: m.Platform, ID: m.ID}
}

// Clone returns a copy that shares no maps with m.
func (m MusicItem) Clone() MusicItem {
	out := m
	if m.Qualities != nil {
		out.Qualities = make(map[Quality]QualityInfo, len(m.Qualities))
		for k, v := range m.Qualities {
			out.Qualities[k] = v
		}
	}
	if m.Downloaded != nil {
		d := *m.Downloaded
		out.Downloaded = &d
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Merge overlays non-empty fields of patch onto m. Identity is never changed.
func (m MusicItem) Merge(patch MusicItem) MusicItem {
	out := m.Clone()
	if patch.Title != "" {
		out.Title = patch.Title
	}
	if patch.Artist != "" {
		out.Artist = patch.Artist
	}
	if patch.Album != "" {
		out.Album = patch.Album
	}
	if patch.Artwork != "" {
		out.Artwork = patch.Artwork
	}
	if patch.Duration > 0 {
		out.Duration = patch.Duration
	}
	if patch.URL != "" {
		out.URL = patch.URL
	}
	if len(patch.Qualities) > 0 {
		out.Qualities = patch.Qualities
	}
	if patch.RawLrc != "" {
		out.RawLrc = patch.RawLrc
	}
	if patch.Lrc != "" {
		out.Lrc = patch.Lrc
	}
	for k, v := range patch.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}
	return out
}

func (m MusicItem) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(musicItemFields(m), m.Extra)
}

func (m *MusicItem) UnmarshalJSON(data []byte) error {
	var fields musicItemFields
	extra, err := unmarshalWithExtra(data, &fields, musicItemKeys)
	if err != nil {
		return err
	}
	*m = MusicItem(fields)
	m.Extra = extra
	return nil
}

// AlbumItem is an album reference.
type AlbumItem struct {
	Platform    string         `json:"platform"`
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Artist      string         `json:"artist,omitempty"`
	Artwork     string         `json:"artwork,omitempty"`
	Description string         `json:"description,omitempty"`
	Date        string         `json:"date,omitempty"`
	WorksNum    float64        `json:"worksNum,omitempty"`
	Extra       map[string]any `json:"-"`
}

var albumItemKeys = []string{
	"platform", "id", "title", "artist", "artwork", "description", "date", "worksNum",
}

type albumItemFields AlbumItem

func (a AlbumItem) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(albumItemFields(a), a.Extra)
}

func (a *AlbumItem) UnmarshalJSON(data []byte) error {
	var fields albumItemFields
	extra, err := unmarshalWithExtra(data, &fields, albumItemKeys)
	if err != nil {
		return err
	}
	*a = AlbumItem(fields)
	a.Extra = extra
	return nil
}

// ArtistItem is an artist reference.
type ArtistItem struct {
	Platform    string         `json:"platform"`
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Avatar      string         `json:"avatar,omitempty"`
	Description string         `json:"description,omitempty"`
	WorksNum    float64        `json:"worksNum,omitempty"`
	Extra       map[string]any `json:"-"`
}

var artistItemKeys = []string{
	"platform", "id", "name", "avatar", "description", "worksNum",
}

type artistItemFields ArtistItem

func (a ArtistItem) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(artistItemFields(a), a.Extra)
}

func (a *ArtistItem) UnmarshalJSON(data []byte) error {
	var fields artistItemFields
	extra, err := unmarshalWithExtra(data, &fields, artistItemKeys)
	if err != nil {
		return err
	}
	*a = ArtistItem(fields)
	a.Extra = extra
	return nil
}

// SheetItem is a playlist (music sheet) or top-list reference.
type SheetItem struct {
	Platform    string         `json:"platform"`
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Artist      string         `json:"artist,omitempty"`
	Artwork     string         `json:"artwork,omitempty"`
	Description string         `json:"description,omitempty"`
	WorksNum    float64        `json:"worksNum,omitempty"`
	PlayCount   float64        `json:"playCount,omitempty"`
	Extra       map[string]any `json:"-"`
}

var sheetItemKeys = []string{
	"platform", "id", "title", "artist", "artwork", "description", "worksNum", "playCount",
}

type sheetItemFields SheetItem

func (s SheetItem) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(sheetItemFields(s), s.Extra)
}

func (s *SheetItem) UnmarshalJSON(data []byte) error {
	var fields sheetItemFields
	extra, err := unmarshalWithExtra(data, &fields, sheetItemKeys)
	if err != nil {
		return err
	}
	*s = SheetItem(fields)
	s.Extra = extra
	return nil
}

// Tag is a recommendation tag.
type Tag struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	type tagFields Tag
	var fields tagFields
	if _, err := unmarshalWithExtra(data, &fields, nil); err != nil {
		return err
	}
	*t = Tag(fields)
	return nil
}
