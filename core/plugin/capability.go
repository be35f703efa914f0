package plugin

import (
	"context"
	"sort"
)

// Capability names one optional plugin method.
type Capability string

const (
	CapSearch                  Capability = "search"
	CapGetMediaSource          Capability = "getMediaSource"
	CapGetLyric                Capability = "getLyric"
	CapGetMusicInfo            Capability = "getMusicInfo"
	CapGetAlbumInfo            Capability = "getAlbumInfo"
	CapGetMusicSheetInfo       Capability = "getMusicSheetInfo"
	CapGetArtistWorks          Capability = "getArtistWorks"
	CapImportMusicSheet        Capability = "importMusicSheet"
	CapImportMusicItem         Capability = "importMusicItem"
	CapGetTopLists             Capability = "getTopLists"
	CapGetTopListDetail        Capability = "getTopListDetail"
	CapGetRecommendSheetTags   Capability = "getRecommendSheetTags"
	CapGetRecommendSheetsByTag Capability = "getRecommendSheetsByTag"
)

// AllCapabilities lists the full capability surface in canonical order.
var AllCapabilities = []Capability{
	CapSearch,
	CapGetMediaSource,
	CapGetLyric,
	CapGetMusicInfo,
	CapGetAlbumInfo,
	CapGetMusicSheetInfo,
	CapGetArtistWorks,
	CapImportMusicSheet,
	CapImportMusicItem,
	CapGetTopLists,
	CapGetTopListDetail,
	CapGetRecommendSheetTags,
	CapGetRecommendSheetsByTag,
}

// exportName is the exported Go identifier a script uses for a capability.
func (c Capability) exportName() string {
	if c == "" {
		return ""
	}
	b := []byte(c)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// Method is one callable capability. Arguments and results are loosely
// typed documents (maps, slices, strings, numbers).
type Method func(ctx context.Context, args ...any) (any, error)

// CapabilitySet is the set of capabilities a plugin implements.
type CapabilitySet map[Capability]struct{}

// Supports reports whether c is in the set.
func (s CapabilitySet) Supports(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Names returns the supported capability names in canonical order.
func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(s))
	for _, c := range AllCapabilities {
		if s.Supports(c) {
			names = append(names, string(c))
		}
	}
	extra := make([]string, 0)
	for c := range s {
		if !isKnown(c) {
			extra = append(extra, string(c))
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func isKnown(c Capability) bool {
	for _, known := range AllCapabilities {
		if known == c {
			return true
		}
	}
	return false
}
