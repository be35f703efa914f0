package db

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	logpkg "github.com/liuran001/MusicPlayer-Go/core/logger"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	base := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "player.db"), logpkg.NewGormLogger(base, logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestPreferences(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	var volume float64
	found, err := repo.Load(ctx, "volume", &volume)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Store(ctx, "volume", 0.4))
	require.NoError(t, repo.Store(ctx, "volume", 0.8))

	found, err = repo.Load(ctx, "volume", &volume)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.8, volume)

	queue := []media.MusicItem{{Platform: "p", ID: "1", Extra: map[string]any{"mid": "x"}}}
	require.NoError(t, repo.Store(ctx, "queue", queue))
	var restored []media.MusicItem
	found, err = repo.Load(ctx, "queue", &restored)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, restored, 1)
	assert.Equal(t, "x", restored[0].Extra["mid"])
}

func TestLinkedLyrics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	from := media.Identity{Platform: "a", ID: "1"}

	target, err := repo.LinkedLyric(ctx, from)
	require.NoError(t, err)
	assert.Nil(t, target)

	require.NoError(t, repo.LinkLyric(ctx, from, media.MusicItem{Platform: "b", ID: "2"}))
	require.NoError(t, repo.LinkLyric(ctx, from, media.MusicItem{Platform: "b", ID: "3"}))

	target, err = repo.LinkedLyric(ctx, from)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, media.Identity{Platform: "b", ID: "3"}, target.Identity())

	require.NoError(t, repo.UnlinkLyric(ctx, from))
	target, err = repo.LinkedLyric(ctx, from)
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestUserVariables(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetUserVariables(ctx, "demo", map[string]string{"token": "a", "": "dropped"}))
	require.NoError(t, repo.SetUserVariables(ctx, "demo", map[string]string{"token": "b", "cookie": "c"}))

	vars, err := repo.UserVariables(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "b", "cookie": "c"}, vars)

	other, err := repo.UserVariables(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
