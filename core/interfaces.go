package core

import (
	"context"

	"github.com/liuran001/MusicPlayer-Go/core/media"
)

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
}

// PreferenceStore is a typed key-value store for player state.
// Values are encoded by the store; Load reports false when the key is absent.
type PreferenceStore interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Store(ctx context.Context, key string, value any) error
}

// LinkedLyricStore keeps user-made lyric redirections keyed by media identity.
type LinkedLyricStore interface {
	LinkedLyric(ctx context.Context, from media.Identity) (*media.MusicItem, error)
	LinkLyric(ctx context.Context, from media.Identity, target media.MusicItem) error
	UnlinkLyric(ctx context.Context, from media.Identity) error
}

// UserVariableStore persists per-plugin user variables.
type UserVariableStore interface {
	UserVariables(ctx context.Context, platform string) (map[string]string, error)
	SetUserVariables(ctx context.Context, platform string, vars map[string]string) error
}

// FileChecker reports whether a downloaded file is still present.
type FileChecker interface {
	Exists(path string) bool
}

// WorkerPool limits concurrency for background tasks.
type WorkerPool interface {
	Submit(task func()) error
	SubmitWait(task func() error) error
	Shutdown(ctx context.Context) error
	Size() int
}
