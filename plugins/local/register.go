package local

import (
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/spf13/afero"
)

const version = "1.0.0"

// Options configures the built-in local plugin.
type Options struct {
	Fs   afero.Fs
	Dir  string
	Tags TagReader
}

// NewFactory returns the built-in plugin source for the local library.
func NewFactory(opts Options) *plugin.Factory {
	return &plugin.Factory{
		Name: Name,
		Text: "builtin:" + Name + "@" + version,
		New: func(env plugin.FactoryEnv) (*plugin.Instance, error) {
			p := NewPlatform(opts.Fs, opts.Dir, opts.Tags, env.Logger)
			return plugin.NewInstance(plugin.Instance{
				Platform:    Name,
				Version:     version,
				Author:      "MusicPlayer-Go",
				Description: "Audio files in the local music directory",
			}, p.Methods()), nil
		},
	}
}

// Source wraps the factory for the plugin registry.
func Source(opts Options) plugin.Source {
	return plugin.Source{Factory: NewFactory(opts)}
}
