// Package lyric parses LRC text and keeps the current item's lyric in sync
// with playback progress.
package lyric

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/liuran001/MusicPlayer-Go/core/media"
)

var (
	timeTagRe = regexp.MustCompile(`^\[(\d+):(\d+)(?:[.:](\d{1,3}))?\]`)
	metaTagRe = regexp.MustCompile(`^\[([A-Za-z#]+):(.*)\]$`)
)

// Line is one timed lyric line. Time is in seconds with all offsets applied.
type Line struct {
	Index       int     `json:"index"`
	Time        float64 `json:"time"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// Parser holds the parsed lines of one item's lyric.
type Parser struct {
	identity media.Identity
	lines    []Line
	meta     map[string]string
	offset   float64
	raw      string
}

// Parse builds a parser from raw LRC text and an optional translation in
// the same format. userOffset is in seconds; positive values show lines
// earlier.
func Parse(item media.MusicItem, raw, translation string, userOffset float64) *Parser {
	p := &Parser{
		identity: item.Identity(),
		meta:     make(map[string]string),
		raw:      raw,
	}
	entries := parseLRC(raw, p.meta)
	tagOffset := 0.0
	if v, ok := p.meta["offset"]; ok {
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			tagOffset = ms / 1000
		}
	}
	p.offset = tagOffset + userOffset

	translated := make(map[int64]string)
	if strings.TrimSpace(translation) != "" {
		for _, e := range parseLRC(translation, nil) {
			if e.text != "" {
				translated[e.ms] = e.text
			}
		}
	}

	p.lines = make([]Line, 0, len(entries))
	for _, e := range entries {
		p.lines = append(p.lines, Line{
			Time:        float64(e.ms)/1000 - p.offset,
			Text:        e.text,
			Translation: translated[e.ms],
		})
	}
	sort.SliceStable(p.lines, func(i, j int) bool { return p.lines[i].Time < p.lines[j].Time })
	for i := range p.lines {
		p.lines[i].Index = i
	}
	return p
}

// Identity returns the identity of the item the lyric belongs to.
func (p *Parser) Identity() media.Identity {
	return p.identity
}

// Lines returns the timed lines in order.
func (p *Parser) Lines() []Line {
	return p.lines
}

// Meta returns the ID tags ([ti:], [ar:], ...) of the lyric.
func (p *Parser) Meta() map[string]string {
	return p.meta
}

// Raw returns the source text.
func (p *Parser) Raw() string {
	return p.raw
}

// Position returns the index of the line active at seconds, or -1 before
// the first line.
func (p *Parser) Position(seconds float64) int {
	i := sort.Search(len(p.lines), func(i int) bool { return p.lines[i].Time > seconds })
	return i - 1
}

// Line returns the line at index i.
func (p *Parser) Line(i int) (Line, bool) {
	if i < 0 || i >= len(p.lines) {
		return Line{}, false
	}
	return p.lines[i], true
}

type entry struct {
	ms   int64
	text string
}

func parseLRC(raw string, meta map[string]string) []entry {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []entry
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var stamps []int64
		rest := line
		for {
			m := timeTagRe.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			stamps = append(stamps, stampMillis(m[1], m[2], m[3]))
			rest = rest[len(m[0]):]
		}
		if len(stamps) == 0 {
			if meta != nil {
				if m := metaTagRe.FindStringSubmatch(line); m != nil {
					meta[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
				}
			}
			continue
		}
		text := strings.TrimSpace(rest)
		for _, ms := range stamps {
			out = append(out, entry{ms: ms, text: text})
		}
	}
	return out
}

func stampMillis(min, sec, frac string) int64 {
	m, _ := strconv.ParseInt(min, 10, 64)
	s, _ := strconv.ParseInt(sec, 10, 64)
	var ms int64
	switch len(frac) {
	case 0:
	case 1:
		ms, _ = strconv.ParseInt(frac, 10, 64)
		ms *= 100
	case 2:
		ms, _ = strconv.ParseInt(frac, 10, 64)
		ms *= 10
	default:
		ms, _ = strconv.ParseInt(frac[:3], 10, 64)
	}
	return (m*60+s)*1000 + ms
}
