package app

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/audio"
	"github.com/liuran001/MusicPlayer-Go/core/config"
	"github.com/liuran001/MusicPlayer-Go/core/db"
	logpkg "github.com/liuran001/MusicPlayer-Go/core/logger"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/player"
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/liuran001/MusicPlayer-Go/core/transport"
	"github.com/liuran001/MusicPlayer-Go/core/worker"
	"github.com/liuran001/MusicPlayer-Go/plugins/local"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/net/publicsuffix"
)

// App wires all application dependencies.
type App struct {
	Config  *config.Config
	Logger  *logpkg.Logger
	DB      *db.Repository
	Pool    *worker.Pool
	Fs      afero.Fs
	Plugins *plugin.Registry
	Audio   audio.Backend
	Player  *player.TrackPlayer
	Server  *transport.Server
	Build   BuildInfo

	cancel context.CancelFunc
	served chan error
	wg     sync.WaitGroup
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// New builds the application container from a config file.
func New(ctx context.Context, configPath string, build BuildInfo) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, conf, build)
}

// NewWithConfig builds the application container.
func NewWithConfig(ctx context.Context, conf *config.Config, build BuildInfo) (*App, error) {
	log, err := logpkg.New(logpkg.Options{
		Level:     conf.GetString("LogLevel"),
		Format:    conf.GetString("LogFormat"),
		File:      conf.GetString("LogFile"),
		AddSource: conf.GetBool("LogSource"),
	})
	if err != nil {
		return nil, err
	}
	a := &App{Config: conf, Logger: log, Build: build, Fs: afero.NewOsFs()}

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.GormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "player.db"
	}
	repo, err := db.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}
	a.DB = repo
	a.Pool = worker.New(conf.GetInt("WorkerPoolSize"), log)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("init cookie jar: %w", err)
	}
	appVersion := conf.GetString("AppVersion")
	if appVersion == "" {
		appVersion = build.BinVersion
	}
	loader := &plugin.Loader{
		Logger: log,
		Host: plugin.HostOptions{
			AppVersion: appVersion,
			Lang:       conf.GetString("Lang"),
			OS:         runtime.GOOS,
		},
		HTTP: plugin.HTTPOptions{
			Timeout:   seconds(conf.GetFloat64("PluginHTTPTimeoutSec")),
			RateLimit: conf.GetFloat64("PluginRateLimitPerSecond"),
			Burst:     conf.GetInt("PluginRateLimitBurst"),
			Jar:       jar,
		},
		Vars:        a.userVariables,
		CallTimeout: seconds(conf.GetFloat64("PluginCallTimeoutSec")),
	}

	var builtins []plugin.Source
	if dir := strings.TrimSpace(conf.GetString("LocalMusicDir")); dir != "" {
		builtins = append(builtins, local.Source(local.Options{Fs: a.Fs, Dir: dir}))
	}
	a.Plugins = plugin.NewRegistry(plugin.RegistryOptions{
		Loader:   loader,
		Fs:       a.Fs,
		Logger:   log.With("component", "plugins"),
		Builtins: builtins,
		Enabled:  conf.PluginEnabled,
		Vars:     repo,
	})

	a.Audio = a.openBackend(conf)
	a.Player = player.New(player.Options{
		Backend:            a.Audio,
		Methods:            a.resolver,
		Prefs:              repo,
		Files:              fileChecker{fs: a.Fs},
		Links:              repo,
		Pool:               a.Pool,
		Logger:             log.With("component", "player"),
		DefaultQuality:     parseQuality(conf.GetString("DefaultQuality")),
		WhenQualityMissing: media.ParseMissingPolicy(conf.GetString("WhenQualityMissing")),
		ErrorPolicy:        player.ParseErrorPolicy(conf.GetString("PlayErrorPolicy")),
		SkipDelay:          time.Duration(conf.GetInt("SkipOnErrorDelayMs")) * time.Millisecond,
		Retries:            conf.GetInt("MediaSourceRetries"),
		LyricOffset:        conf.GetFloat64("LyricOffsetSec"),
	})

	a.Server = transport.New(transport.Options{
		Addr:    conf.GetString("ListenAddr"),
		Player:  a.Player,
		Plugins: a.Plugins,
		Pool:    a.Pool,
		Logger:  log.With("component", "transport"),
	})
	return a, nil
}

// Start loads plugins, restores the player and starts serving UI clients.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	dir := a.Config.GetString("PluginDir")
	if err := a.Fs.MkdirAll(dir, 0o755); err != nil {
		a.Logger.Warn("create plugin dir failed", "dir", dir, "error", err)
	}
	if err := a.Plugins.LoadAll(runCtx, dir); err != nil {
		a.Logger.Error("load plugins failed", "dir", dir, "error", err)
	}
	a.Logger.Info("plugins loaded", "count", len(a.Plugins.Plugins()))
	if a.Config.GetBool("WatchPlugins") {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Plugins.Watch(runCtx, dir); err != nil {
				a.Logger.Warn("plugin watch disabled", "dir", dir, "error", err)
			}
		}()
	}

	if err := a.Player.Restore(runCtx); err != nil {
		a.Logger.Warn("restore player state failed", "error", err)
	}

	a.Server.Run(runCtx)
	a.served = make(chan error, 1)
	go func() {
		a.served <- a.Server.ListenAndServe()
	}()
	return nil
}

// Done reports the result of the HTTP server once it stops.
func (a *App) Done() <-chan error {
	return a.served
}

// Shutdown stops services in reverse start order.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		if a.Logger != nil {
			a.Logger.Error("shutdown step failed", "step", what, "error", err)
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", what, err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.Server != nil {
		record("stop ui bridge", a.Server.Shutdown(ctx))
	}
	if a.Plugins != nil {
		a.Plugins.Close()
	}
	if a.Player != nil {
		record("close player", a.Player.Close())
	}
	if a.Audio != nil {
		record("close audio", a.Audio.Close())
	}
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			a.Pool.StopNow()
			record("shutdown worker pool", err)
		}
	}
	if a.DB != nil {
		record("close database", a.DB.Close())
	}
	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close logger: %w", err)
		}
	}
	return firstErr
}

// userVariables merges config seeds with stored values. Stored values win.
func (a *App) userVariables(platform string) map[string]string {
	seed := a.Config.PluginUserVariables(platform)
	if a.DB == nil {
		return seed
	}
	stored, err := a.DB.UserVariables(context.Background(), platform)
	if err != nil {
		a.Logger.Warn("read user variables failed", "plugin", platform, "error", err)
		return seed
	}
	return lo.Assign(seed, stored)
}

// resolver returns the dispatcher of platform. A missing plugin must come
// back as a nil interface, not a typed nil.
func (a *App) resolver(platform string) player.MediaResolver {
	if d := a.Plugins.Methods(platform); d != nil {
		return d
	}
	return nil
}

func (a *App) openBackend(conf *config.Config) audio.Backend {
	kind := strings.ToLower(strings.TrimSpace(conf.GetString("AudioBackend")))
	logger := a.Logger.With("component", "audio", "backend", kind)
	var (
		backend audio.Backend
		err     error
	)
	switch kind {
	case "mpd":
		backend, err = audio.NewMPD(audio.MPDOptions{
			Host:     conf.GetString("MPDHost"),
			Port:     conf.GetInt("MPDPort"),
			Password: conf.GetString("MPDPassword"),
			Logger:   logger,
		})
	case "mpv":
		backend, err = audio.NewMPV(logger)
	case "", "null", "none":
		return audio.NewNull()
	default:
		err = errors.New("unknown audio backend")
	}
	if err != nil {
		logger.Warn("audio backend unavailable, playing silently", "error", err)
		return audio.NewNull()
	}
	return backend
}

type fileChecker struct {
	fs afero.Fs
}

func (f fileChecker) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, path)
	return err == nil && ok
}

func parseQuality(s string) media.Quality {
	q, err := media.ParseQuality(s)
	if err != nil {
		return media.DefaultQuality
	}
	return q
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
