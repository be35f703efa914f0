package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/event"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ScriptExt is the file extension of plugin scripts.
const ScriptExt = ".go"

const (
	defaultLoadConcurrency = 4
	watchDebounce          = 300 * time.Millisecond
)

// ErrInvalidPlugin is returned when installing source that does not load
// into an addressable plugin.
var ErrInvalidPlugin = errors.New("plugin: invalid plugin source")

// Query selects a plugin by hash, or by platform when Hash is empty.
type Query struct {
	Hash     string
	Platform string
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Loader   *Loader
	Fs       afero.Fs
	Logger   core.Logger
	Builtins []Source
	// Enabled filters plugins by platform. Nil enables all.
	Enabled     func(platform string) bool
	Vars        core.UserVariableStore
	Concurrency int
}

// Registry owns the loaded plugin set. The set is swapped atomically on
// every load pass and never mutated in place.
type Registry struct {
	loader      *Loader
	fs          afero.Fs
	logger      core.Logger
	builtins    []Source
	enabled     func(string) bool
	vars        core.UserVariableStore
	concurrency int

	plugins   atomic.Pointer[[]*Plugin]
	delegates atomic.Pointer[[]Delegate]
	bus       *event.Bus[[]Delegate]

	loadMu sync.Mutex
	dir    string
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Loader == nil {
		opts.Loader = &Loader{Logger: opts.Logger}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultLoadConcurrency
	}
	r := &Registry{
		loader:      opts.Loader,
		fs:          opts.Fs,
		logger:      opts.Logger,
		builtins:    opts.Builtins,
		enabled:     opts.Enabled,
		vars:        opts.Vars,
		concurrency: opts.Concurrency,
		bus:         event.New[[]Delegate](8),
	}
	empty := []*Plugin{}
	r.plugins.Store(&empty)
	none := []Delegate{}
	r.delegates.Store(&none)
	return r
}

// LoadAll scans dir for plugin scripts and replaces the registry with the
// freshly loaded set. A missing directory yields only the built-ins; any
// other read failure keeps the previous set.
func (r *Registry) LoadAll(ctx context.Context, dir string) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read plugin dir: %w", err)
		}
		r.logger.Warn("plugin dir missing", "dir", dir)
		entries = nil
	}
	files := lo.FilterMap(entries, func(e os.FileInfo, _ int) (string, bool) {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ScriptExt || strings.HasSuffix(name, "_test.go") {
			return "", false
		}
		return filepath.Join(dir, name), true
	})

	scanned := make([]*Plugin, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, path := range files {
		g.Go(func() error {
			data, err := afero.ReadFile(r.fs, path)
			if err != nil {
				r.logger.Warn("read plugin failed", "path", path, "error", err)
				return nil
			}
			scanned[i] = r.loader.Load(gctx, Source{Path: path, Text: string(data)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	all := make([]*Plugin, 0, len(r.builtins)+len(scanned))
	for _, src := range r.builtins {
		all = append(all, r.loader.Load(ctx, src))
	}
	all = append(all, scanned...)

	r.dir = dir
	r.swap(r.dedupe(all))
	return nil
}

// Reload rescans the directory of the last LoadAll.
func (r *Registry) Reload(ctx context.Context) error {
	r.loadMu.Lock()
	dir := r.dir
	r.loadMu.Unlock()
	return r.LoadAll(ctx, dir)
}

// dedupe keeps the first plugin of every hash and drops unaddressable and
// disabled ones.
func (r *Registry) dedupe(all []*Plugin) []*Plugin {
	seen := make(map[string]struct{}, len(all))
	return lo.Filter(all, func(p *Plugin, _ int) bool {
		if !p.Addressable() {
			return false
		}
		if _, dup := seen[p.Hash]; dup {
			r.logger.Debug("duplicate plugin skipped", "path", p.Path, "platform", p.Name)
			return false
		}
		seen[p.Hash] = struct{}{}
		if r.enabled != nil && !r.enabled(p.Name) {
			r.logger.Info("plugin disabled", "platform", p.Name)
			return false
		}
		return true
	})
}

func (r *Registry) swap(next []*Plugin) {
	delegates := lo.Map(next, func(p *Plugin, _ int) Delegate { return p.Delegate() })
	r.plugins.Store(&next)
	r.delegates.Store(&delegates)
	r.logger.Info("plugins loaded", "count", len(next))
	r.bus.Publish(delegates)
}

// Plugins returns the current set.
func (r *Registry) Plugins() []*Plugin {
	return *r.plugins.Load()
}

// Resolve returns the first plugin matching q, or nil.
func (r *Registry) Resolve(q Query) *Plugin {
	list := r.Plugins()
	var (
		p  *Plugin
		ok bool
	)
	switch {
	case q.Hash != "":
		p, ok = lo.Find(list, func(p *Plugin) bool { return p.Hash == q.Hash })
	case q.Platform != "":
		p, ok = lo.Find(list, func(p *Plugin) bool { return p.Name == q.Platform })
	}
	if !ok {
		return nil
	}
	return p
}

// Methods returns the dispatcher of the plugin serving platform, or nil.
func (r *Registry) Methods(platform string) *Dispatcher {
	if p := r.Resolve(Query{Platform: platform}); p != nil {
		return p.Methods
	}
	return nil
}

// Delegates returns the function-free projection of the current set.
func (r *Registry) Delegates() []Delegate {
	return *r.delegates.Load()
}

// Subscribe delivers the delegate list after every load pass.
func (r *Registry) Subscribe() *event.Subscription[[]Delegate] {
	return r.bus.Subscribe()
}

// Unsubscribe detaches a subscription made with Subscribe.
func (r *Registry) Unsubscribe(sub *event.Subscription[[]Delegate]) {
	r.bus.Unsubscribe(sub)
}

// Install validates src, writes it into the plugin directory under name and
// reloads.
func (r *Registry) Install(ctx context.Context, name, src string) (*Plugin, error) {
	r.loadMu.Lock()
	dir := r.dir
	r.loadMu.Unlock()
	if dir == "" {
		return nil, fmt.Errorf("install %s: plugin dir not loaded", name)
	}

	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("install: invalid file name")
	}
	if filepath.Ext(name) != ScriptExt {
		name += ScriptExt
	}
	path := filepath.Join(dir, name)

	probe := r.loader.Load(ctx, Source{Path: path, Text: src})
	if !probe.Addressable() {
		return nil, fmt.Errorf("install %s (%s): %w", name, probe.StateCode, ErrInvalidPlugin)
	}
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("install %s: %w", name, err)
	}
	if err := afero.WriteFile(r.fs, path, []byte(src), 0o644); err != nil {
		return nil, fmt.Errorf("install %s: %w", name, err)
	}
	if err := r.LoadAll(ctx, dir); err != nil {
		return nil, err
	}
	return r.Resolve(Query{Hash: probe.Hash}), nil
}

// Uninstall removes the script of the plugin with the given hash and reloads.
func (r *Registry) Uninstall(ctx context.Context, hash string) error {
	p := r.Resolve(Query{Hash: hash})
	if p == nil {
		return media.ErrPluginNotFound
	}
	if p.Path == "" {
		return fmt.Errorf("uninstall %s: built-in plugin", p.Name)
	}
	if err := r.fs.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uninstall %s: %w", p.Name, err)
	}
	return r.Reload(ctx)
}

// UserVariables returns the stored user variables of a platform.
func (r *Registry) UserVariables(ctx context.Context, platform string) (map[string]string, error) {
	if r.vars == nil {
		return map[string]string{}, nil
	}
	return r.vars.UserVariables(ctx, platform)
}

// SetUserVariables stores user variables for a platform. Keys the plugin
// does not declare are dropped when it declares any.
func (r *Registry) SetUserVariables(ctx context.Context, platform string, vars map[string]string) error {
	if r.vars == nil {
		return errors.New("user variable store not configured")
	}
	p := r.Resolve(Query{Platform: platform})
	if p == nil {
		return media.ErrPluginNotFound
	}
	if declared := p.Instance.UserVariables; len(declared) > 0 {
		keys := lo.SliceToMap(declared, func(v UserVariable) (string, struct{}) { return v.Key, struct{}{} })
		vars = lo.PickBy(vars, func(k, _ string) bool {
			_, ok := keys[k]
			return ok
		})
	}
	return r.vars.SetUserVariables(ctx, platform, vars)
}

// Watch reloads the registry when scripts in dir change. It blocks until ctx
// is done.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch plugins: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch plugins: %w", err)
	}

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ScriptExt {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("plugin watcher error", "error", err)
		case <-fire:
			if err := r.LoadAll(ctx, dir); err != nil {
				r.logger.Warn("plugin reload failed", "dir", dir, "error", err)
			}
		}
	}
}

// Close detaches all subscribers.
func (r *Registry) Close() {
	r.bus.Close()
}
