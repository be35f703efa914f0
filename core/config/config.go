package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// PluginConfig stores plugin-specific configuration as key-value pairs.
type PluginConfig map[string]any

// Config wraps viper and provides typed accessors.
type Config struct {
	v       *viper.Viper
	plugins map[string]PluginConfig
}

// Load reads an INI (or any viper-supported) config file and prepares
// defaults. A missing file is not an error: defaults and environment apply.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MUSICPLAYER")
	v.AutomaticEnv()
	setDefaults(v)

	c := &Config{v: v, plugins: make(map[string]PluginConfig)}
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		file, err := loadINI(v, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		loadPlugins(file, c)
		return c, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("LogFile", "./log/musicplayer.log")
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("Database", "./data/player.db")
	v.SetDefault("PluginDir", "./plugins/scripts")
	v.SetDefault("WatchPlugins", true)
	v.SetDefault("AppVersion", "0.1.0")
	v.SetDefault("Lang", "zh-CN")
	v.SetDefault("DefaultQuality", "standard")
	v.SetDefault("WhenQualityMissing", "lower")
	v.SetDefault("PlayErrorPolicy", "skip")
	v.SetDefault("SkipOnErrorDelayMs", 1000)
	v.SetDefault("MediaSourceRetries", 1)
	v.SetDefault("PluginCallTimeoutSec", 20)
	v.SetDefault("PluginHTTPTimeoutSec", 10)
	v.SetDefault("PluginRateLimitPerSecond", 5.0)
	v.SetDefault("PluginRateLimitBurst", 10)
	v.SetDefault("LocalMusicDir", "")
	v.SetDefault("AudioBackend", "mpd")
	v.SetDefault("MPDHost", "localhost")
	v.SetDefault("MPDPort", 6600)
	v.SetDefault("MPDPassword", "")
	v.SetDefault("ListenAddr", "127.0.0.1:7640")
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("LyricOffsetSec", 0.0)
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// Set overrides a value at runtime (flags, tests).
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetPluginConfig retrieves plugin-specific configuration by plugin name.
func (c *Config) GetPluginConfig(name string) (PluginConfig, bool) {
	cfg, ok := c.plugins[name]
	return cfg, ok
}

// PluginNames returns the configured plugin names, sorted.
func (c *Config) PluginNames() []string {
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginEnabled reports whether a plugin may be loaded. Plugins without a
// section, or without an enabled key, are enabled.
func (c *Config) PluginEnabled(name string) bool {
	cfg, ok := c.plugins[name]
	if !ok {
		return true
	}
	if _, has := cfg["enabled"]; !has {
		return true
	}
	return c.GetPluginBool(name, "enabled")
}

// PluginUserVariables returns the seed user variables of a plugin: every key
// of its section except enabled.
func (c *Config) PluginUserVariables(name string) map[string]string {
	cfg, ok := c.plugins[name]
	if !ok {
		return nil
	}
	vars := make(map[string]string, len(cfg))
	for key := range cfg {
		if key == "enabled" {
			continue
		}
		vars[key] = c.GetPluginString(name, key)
	}
	return vars
}

// GetPluginString returns a string value from plugin configuration.
func (c *Config) GetPluginString(plugin, key string) string {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetPluginInt returns an int value from plugin configuration.
func (c *Config) GetPluginInt(plugin, key string) int {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		num, _ := strconv.Atoi(strings.TrimSpace(v))
		return num
	default:
		return 0
	}
}

// GetPluginBool returns a bool value from plugin configuration.
func (c *Config) GetPluginBool(plugin, key string) bool {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

func (c *Config) pluginValue(plugin, key string) (any, bool) {
	cfg, ok := c.plugins[plugin]
	if !ok {
		return nil, false
	}
	val, ok := cfg[key]
	return val, ok
}

func loadINI(v *viper.Viper, path string) (*ini.File, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	for _, key := range file.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}
	return file, nil
}

func loadPlugins(file *ini.File, c *Config) {
	const pluginPrefix = "plugins."

	for _, section := range file.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, pluginPrefix) {
			continue
		}
		pluginName := strings.TrimPrefix(name, pluginPrefix)
		if pluginName == "" {
			continue
		}
		cfg := make(PluginConfig)
		for _, key := range section.Keys() {
			cfg[key.Name()] = key.Value()
		}
		c.plugins[pluginName] = cfg
	}
}
