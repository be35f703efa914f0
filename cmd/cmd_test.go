package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestPluginsHash(t *testing.T) {
	src := "package demo\n\nvar Platform = \"demo\"\n"
	path := filepath.Join(t.TempDir(), "demo.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	out := run(t, "plugins", "hash", path)
	assert.Equal(t, plugin.ContentHash(src), strings.TrimSpace(out))
}

func TestVersion(t *testing.T) {
	build.BinVersion = ""
	out := run(t, "version")
	assert.Contains(t, out, "version: dev")
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abc", shortHash("abc"))
	assert.Equal(t, "0123456789ab", shortHash("0123456789abcdef"))
}
