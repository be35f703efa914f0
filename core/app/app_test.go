package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/liuran001/MusicPlayer-Go/core/config"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/player"
	"github.com/liuran001/MusicPlayer-Go/core/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	music := filepath.Join(dir, "music")
	require.NoError(t, os.MkdirAll(music, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(music, "Track One.mp3"), []byte("not really audio"), 0o644))

	conf, err := config.Load("")
	require.NoError(t, err)
	conf.Set("Database", filepath.Join(dir, "player.db"))
	conf.Set("LogFile", filepath.Join(dir, "log", "player.log"))
	conf.Set("LogLevel", "error")
	conf.Set("PluginDir", filepath.Join(dir, "scripts"))
	conf.Set("LocalMusicDir", music)
	conf.Set("WatchPlugins", false)
	conf.Set("AudioBackend", "null")
	conf.Set("ListenAddr", "127.0.0.1:0")
	return conf
}

func TestAppLifecycle(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithConfig(ctx, testConfig(t), BuildInfo{BinVersion: "test"})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	delegates := a.Plugins.Delegates()
	require.Len(t, delegates, 1)
	assert.Equal(t, "local", delegates[0].Name)

	data, err := a.Server.Dispatch(ctx, transport.Request{
		Intent: "search",
		Args:   json.RawMessage(`{"platform":"local","query":"track"}`),
	})
	require.NoError(t, err)
	res, ok := data.(media.SearchResult)
	require.True(t, ok)
	require.Len(t, res.Music, 1)
	assert.Equal(t, "Track One", res.Music[0].Title)

	require.NoError(t, a.Player.PlayMusic(ctx, res.Music[0], player.PlayOptions{}))
	assert.Equal(t, "Track One", a.Player.CurrentItem().Title)

	require.NoError(t, a.Shutdown(ctx))
}

func TestStoredUserVariablesOverrideSeeds(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithConfig(ctx, testConfig(t), BuildInfo{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	require.NoError(t, a.DB.SetUserVariables(ctx, "demo", map[string]string{"token": "stored"}))
	assert.Equal(t, map[string]string{"token": "stored"}, a.userVariables("demo"))
}

func TestMissingPluginResolvesToNilInterface(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithConfig(ctx, testConfig(t), BuildInfo{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	assert.True(t, a.resolver("nowhere") == nil)
}
