package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/liuran001/MusicPlayer-Go/core/event"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/player"
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
)

// ErrUnknownIntent is returned for intents no handler is registered for.
var ErrUnknownIntent = errors.New("unknown intent")

// Player is the playback surface driven by intents.
type Player interface {
	PlayMusic(ctx context.Context, item media.MusicItem, opts player.PlayOptions) error
	PlayMusicWithReplaceQueue(ctx context.Context, items []media.MusicItem, item *media.MusicItem) error
	PlayIndex(ctx context.Context, i int, opts player.PlayOptions) error
	SkipNext(ctx context.Context) error
	SkipPrev(ctx context.Context) error
	Pause() error
	Resume(ctx context.Context) error
	Seek(seconds float64) error
	SetRepeatMode(mode player.RepeatMode)
	SetQuality(ctx context.Context, quality media.Quality) error
	SetVolume(volume float64) error
	SetSpeed(rate float64) error
	AddNext(items []media.MusicItem)
	AddToEnd(items []media.MusicItem)
	RemoveMusic(items ...media.MusicItem)
	RemoveIndex(i int)
	Reset()
	SetLyricOffset(ctx context.Context, seconds float64)
	LinkLyric(ctx context.Context, from, target media.MusicItem) error
	UnlinkLyric(ctx context.Context, from media.MusicItem) error
	Snapshot() player.Snapshot
	Subscribe() *event.Subscription[player.Event]
	Unsubscribe(sub *event.Subscription[player.Event])
}

// Plugins is the plugin registry surface driven by intents.
type Plugins interface {
	Delegates() []plugin.Delegate
	Methods(platform string) *plugin.Dispatcher
	Install(ctx context.Context, name, src string) (*plugin.Plugin, error)
	Uninstall(ctx context.Context, hash string) error
	Reload(ctx context.Context) error
	UserVariables(ctx context.Context, platform string) (map[string]string, error)
	SetUserVariables(ctx context.Context, platform string, vars map[string]string) error
	Subscribe() *event.Subscription[[]plugin.Delegate]
	Unsubscribe(sub *event.Subscription[[]plugin.Delegate])
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type playArgs struct {
	Item               media.MusicItem   `json:"item"`
	Items              []media.MusicItem `json:"items"`
	Index              int               `json:"index"`
	Refresh            bool              `json:"refresh"`
	RestartOnSameMedia bool              `json:"restartOnSameMedia"`
	SeekTo             float64           `json:"seekTo"`
	Quality            media.Quality     `json:"quality"`
	NoAutoplay         bool              `json:"noAutoplay"`
}

func (a playArgs) options() player.PlayOptions {
	return player.PlayOptions{
		Refresh:            a.Refresh,
		RestartOnSameMedia: a.RestartOnSameMedia,
		SeekTo:             a.SeekTo,
		Quality:            a.Quality,
		NoAutoplay:         a.NoAutoplay,
	}
}

type valueArgs struct {
	Seconds float64       `json:"seconds"`
	Volume  float64       `json:"volume"`
	Speed   float64       `json:"speed"`
	Offset  float64       `json:"offset"`
	Mode    string        `json:"mode"`
	Quality media.Quality `json:"quality"`
}

type lyricArgs struct {
	From   media.MusicItem `json:"from"`
	Target media.MusicItem `json:"target"`
}

type pluginArgs struct {
	Platform  string            `json:"platform"`
	Query     string            `json:"query"`
	Page      int               `json:"page"`
	Kind      media.SearchKind  `json:"kind"`
	URL       string            `json:"url"`
	Item      media.MusicItem   `json:"item"`
	Album     media.AlbumItem   `json:"album"`
	Sheet     media.SheetItem   `json:"sheet"`
	Artist    media.ArtistItem  `json:"artist"`
	Tag       media.Tag         `json:"tag"`
	Name      string            `json:"name"`
	Source    string            `json:"source"`
	Hash      string            `json:"hash"`
	Variables map[string]string `json:"variables"`
}

func (a pluginArgs) page() int {
	if a.Page < 1 {
		return 1
	}
	return a.Page
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode args: %w", err)
	}
	return out, nil
}

// with wraps a handler taking decoded args.
func with[T any](fn func(ctx context.Context, args T) (any, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
}

func done(err error) (any, error) {
	return nil, err
}

func playerIntents(p Player) map[string]handlerFunc {
	return map[string]handlerFunc{
		"playMusic": with(func(ctx context.Context, a playArgs) (any, error) {
			return done(p.PlayMusic(ctx, a.Item, a.options()))
		}),
		"playMusicWithReplaceQueue": with(func(ctx context.Context, a playArgs) (any, error) {
			var item *media.MusicItem
			if a.Item.ID != "" {
				item = &a.Item
			}
			return done(p.PlayMusicWithReplaceQueue(ctx, a.Items, item))
		}),
		"playIndex": with(func(ctx context.Context, a playArgs) (any, error) {
			return done(p.PlayIndex(ctx, a.Index, a.options()))
		}),
		"skipToNext": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return done(p.SkipNext(ctx))
		},
		"skipToPrevious": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return done(p.SkipPrev(ctx))
		},
		"pause": func(context.Context, json.RawMessage) (any, error) {
			return done(p.Pause())
		},
		"resume": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return done(p.Resume(ctx))
		},
		"seek": with(func(_ context.Context, a valueArgs) (any, error) {
			return done(p.Seek(a.Seconds))
		}),
		"setRepeatMode": with(func(_ context.Context, a valueArgs) (any, error) {
			mode, err := player.ParseRepeatMode(a.Mode)
			if err != nil {
				return nil, err
			}
			p.SetRepeatMode(mode)
			return nil, nil
		}),
		"setQuality": with(func(ctx context.Context, a valueArgs) (any, error) {
			return done(p.SetQuality(ctx, a.Quality))
		}),
		"setVolume": with(func(_ context.Context, a valueArgs) (any, error) {
			return done(p.SetVolume(a.Volume))
		}),
		"setSpeed": with(func(_ context.Context, a valueArgs) (any, error) {
			return done(p.SetSpeed(a.Speed))
		}),
		"addNext": with(func(_ context.Context, a playArgs) (any, error) {
			p.AddNext(a.Items)
			return nil, nil
		}),
		"addToEnd": with(func(_ context.Context, a playArgs) (any, error) {
			p.AddToEnd(a.Items)
			return nil, nil
		}),
		"removeMusic": with(func(_ context.Context, a playArgs) (any, error) {
			p.RemoveMusic(a.Items...)
			return nil, nil
		}),
		"removeIndex": with(func(_ context.Context, a playArgs) (any, error) {
			p.RemoveIndex(a.Index)
			return nil, nil
		}),
		"reset": func(context.Context, json.RawMessage) (any, error) {
			p.Reset()
			return nil, nil
		},
		"setLyricOffset": with(func(ctx context.Context, a valueArgs) (any, error) {
			p.SetLyricOffset(ctx, a.Offset)
			return nil, nil
		}),
		"linkLyric": with(func(ctx context.Context, a lyricArgs) (any, error) {
			return done(p.LinkLyric(ctx, a.From, a.Target))
		}),
		"unlinkLyric": with(func(ctx context.Context, a lyricArgs) (any, error) {
			return done(p.UnlinkLyric(ctx, a.From))
		}),
		"getState": func(context.Context, json.RawMessage) (any, error) {
			return p.Snapshot(), nil
		},
	}
}

func pluginIntents(r Plugins) map[string]handlerFunc {
	methods := func(platform string) (*plugin.Dispatcher, error) {
		d := r.Methods(platform)
		if d == nil {
			return nil, fmt.Errorf("%s: %w", platform, media.ErrPluginNotFound)
		}
		return d, nil
	}
	browse := func(fn func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any) handlerFunc {
		return with(func(ctx context.Context, a pluginArgs) (any, error) {
			d, err := methods(a.Platform)
			if err != nil {
				return nil, err
			}
			return fn(ctx, d, a), nil
		})
	}

	return map[string]handlerFunc{
		"getPlugins": func(context.Context, json.RawMessage) (any, error) {
			return r.Delegates(), nil
		},
		"installPlugin": with(func(ctx context.Context, a pluginArgs) (any, error) {
			p, err := r.Install(ctx, a.Name, a.Source)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, nil
			}
			return p.Delegate(), nil
		}),
		"uninstallPlugin": with(func(ctx context.Context, a pluginArgs) (any, error) {
			return done(r.Uninstall(ctx, a.Hash))
		}),
		"reloadPlugins": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return done(r.Reload(ctx))
		},
		"getUserVariables": with(func(ctx context.Context, a pluginArgs) (any, error) {
			return r.UserVariables(ctx, a.Platform)
		}),
		"setUserVariables": with(func(ctx context.Context, a pluginArgs) (any, error) {
			return done(r.SetUserVariables(ctx, a.Platform, a.Variables))
		}),
		"search": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.Search(ctx, a.Query, a.page(), a.Kind)
		}),
		"getMusicInfo": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetMusicInfo(ctx, a.Item)
		}),
		"getAlbumInfo": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetAlbumInfo(ctx, a.Album, a.page())
		}),
		"getMusicSheetInfo": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetMusicSheetInfo(ctx, a.Sheet, a.page())
		}),
		"getArtistWorks": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetArtistWorks(ctx, a.Artist, a.page(), a.Kind)
		}),
		"importMusicSheet": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.ImportMusicSheet(ctx, a.URL)
		}),
		"importMusicItem": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.ImportMusicItem(ctx, a.URL)
		}),
		"getTopLists": browse(func(ctx context.Context, d *plugin.Dispatcher, _ pluginArgs) any {
			return d.GetTopLists(ctx)
		}),
		"getTopListDetail": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetTopListDetail(ctx, a.Sheet, a.page())
		}),
		"getRecommendSheetTags": browse(func(ctx context.Context, d *plugin.Dispatcher, _ pluginArgs) any {
			return d.GetRecommendSheetTags(ctx)
		}),
		"getRecommendSheetsByTag": browse(func(ctx context.Context, d *plugin.Dispatcher, a pluginArgs) any {
			return d.GetRecommendSheetsByTag(ctx, a.Tag, a.page())
		}),
	}
}
