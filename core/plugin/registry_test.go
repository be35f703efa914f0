package plugin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pluginDir = "/plugins"

func script(platform string) string {
	return "package p\n\nvar Platform = \"" + platform + "\"\n"
}

func writeScripts(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(pluginDir, 0o755))
	for name, src := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(pluginDir, name), []byte(src), 0o644))
	}
}

func TestLoadAllDedupesByHash(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{
		"a.go":      script("alpha"),
		"b.go":      script("alpha"),
		"c.go":      script("gamma"),
		"blank.go":  "package p\n\nvar Version = \"1\"\n",
		"notes.txt": script("ignored"),
	})
	r := NewRegistry(RegistryOptions{Fs: fs})

	require.NoError(t, r.LoadAll(context.Background(), pluginDir))

	plugins := r.Plugins()
	require.Len(t, plugins, 2)
	assert.Equal(t, filepath.Join(pluginDir, "a.go"), plugins[0].Path)
	assert.Equal(t, "gamma", plugins[1].Name)
	for _, p := range plugins {
		assert.NotEmpty(t, p.Hash)
	}
}

func TestResolve(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha"), "b.go": script("beta")})
	r := NewRegistry(RegistryOptions{Fs: fs})
	require.NoError(t, r.LoadAll(context.Background(), pluginDir))

	beta := r.Resolve(Query{Platform: "beta"})
	require.NotNil(t, beta)
	assert.Same(t, beta, r.Resolve(Query{Hash: beta.Hash}))
	assert.Same(t, beta, r.Resolve(Query{Hash: beta.Hash, Platform: "alpha"}), "hash takes precedence")
	assert.Nil(t, r.Resolve(Query{Platform: "missing"}))
	assert.Nil(t, r.Resolve(Query{Hash: "nope"}))
	assert.Nil(t, r.Resolve(Query{}))
	assert.Nil(t, r.Methods("missing"))
	assert.NotNil(t, r.Methods("alpha"))
}

func TestFailedRescanKeepsPreviousSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha")})
	r := NewRegistry(RegistryOptions{Fs: fs})
	require.NoError(t, r.LoadAll(context.Background(), pluginDir))

	require.NoError(t, afero.WriteFile(fs, "/not-a-dir", []byte("x"), 0o644))
	assert.Error(t, r.LoadAll(context.Background(), "/not-a-dir"))
	require.Len(t, r.Plugins(), 1)
	assert.Equal(t, "alpha", r.Plugins()[0].Name)
}

func TestBuiltinsArePrependedAndDelegatesPublished(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha")})
	builtin := Source{Factory: &Factory{Name: "local", Text: "builtin:local", New: func(FactoryEnv) (*Instance, error) {
		return NewInstance(Instance{Platform: "local"}, nil), nil
	}}}
	r := NewRegistry(RegistryOptions{Fs: fs, Builtins: []Source{builtin}})
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	require.NoError(t, r.LoadAll(context.Background(), pluginDir))

	select {
	case delegates := <-sub.Events():
		require.Len(t, delegates, 2)
		assert.Equal(t, "local", delegates[0].Platform)
		assert.Equal(t, "alpha", delegates[1].Platform)
	case <-time.After(time.Second):
		t.Fatal("no delegate event")
	}
	assert.Len(t, r.Delegates(), 2)
}

func TestMissingDirLoadsBuiltinsOnly(t *testing.T) {
	builtin := Source{Factory: &Factory{Name: "local", Text: "builtin:local", New: func(FactoryEnv) (*Instance, error) {
		return NewInstance(Instance{Platform: "local"}, nil), nil
	}}}
	r := NewRegistry(RegistryOptions{Fs: afero.NewMemMapFs(), Builtins: []Source{builtin}})
	require.NoError(t, r.LoadAll(context.Background(), "/absent"))
	require.Len(t, r.Plugins(), 1)
}

func TestEnabledFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha"), "b.go": script("beta")})
	r := NewRegistry(RegistryOptions{Fs: fs, Enabled: func(name string) bool { return name != "beta" }})
	require.NoError(t, r.LoadAll(context.Background(), pluginDir))
	require.Len(t, r.Plugins(), 1)
	assert.Equal(t, "alpha", r.Plugins()[0].Name)
}

func TestInstallAndUninstall(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha")})
	r := NewRegistry(RegistryOptions{Fs: fs})
	ctx := context.Background()
	require.NoError(t, r.LoadAll(ctx, pluginDir))

	_, err := r.Install(ctx, "broken", "package p\n\nfunc {")
	assert.ErrorIs(t, err, ErrInvalidPlugin)

	p, err := r.Install(ctx, "delta", script("delta"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, filepath.Join(pluginDir, "delta.go"), p.Path)
	assert.Len(t, r.Plugins(), 2)

	require.NoError(t, r.Uninstall(ctx, p.Hash))
	assert.Nil(t, r.Resolve(Query{Platform: "delta"}))
	exists, err := afero.Exists(fs, filepath.Join(pluginDir, "delta.go"))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, r.Uninstall(ctx, "unknown"), media.ErrPluginNotFound)
}

type memVars map[string]map[string]string

func (m memVars) UserVariables(ctx context.Context, platform string) (map[string]string, error) {
	return m[platform], nil
}

func (m memVars) SetUserVariables(ctx context.Context, platform string, vars map[string]string) error {
	m[platform] = vars
	return nil
}

func TestSetUserVariablesKeepsDeclaredKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScripts(t, fs, map[string]string{"a.go": script("alpha") + "\nvar UserVariables = []map[string]string{{\"key\": \"token\"}}\n"})
	store := memVars{}
	r := NewRegistry(RegistryOptions{Fs: fs, Vars: store})
	ctx := context.Background()
	require.NoError(t, r.LoadAll(ctx, pluginDir))

	require.NoError(t, r.SetUserVariables(ctx, "alpha", map[string]string{"token": "t", "junk": "j"}))
	vars, err := r.UserVariables(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "t"}, vars)

	assert.ErrorIs(t, r.SetUserVariables(ctx, "missing", nil), media.ErrPluginNotFound)
}
