package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core"
)

// Source is one plugin to load: script text with its origin path, or an
// in-process factory.
type Source struct {
	Path    string
	Text    string
	Factory *Factory
}

// FactoryEnv is what a built-in factory receives from the host.
type FactoryEnv struct {
	HTTP   *HTTPClient
	Logger core.Logger
	Host   HostOptions
}

// Factory builds a built-in plugin in process. Text is its textual identity
// and is what the plugin hash is computed from.
type Factory struct {
	Name string
	Text string
	New  func(env FactoryEnv) (*Instance, error)
}

// VersionMismatchError rejects a plugin built for another host version.
type VersionMismatchError struct {
	Required string
	Actual   string
	Reason   string
}

func (e *VersionMismatchError) Error() string {
	if e.Reason != "" {
		return "version mismatch: " + e.Reason
	}
	return fmt.Sprintf("version mismatch: plugin requires %s, host is %s", e.Required, e.Actual)
}

// UserVariableSource returns the persisted user variables of a platform.
type UserVariableSource func(platform string) map[string]string

// Loader turns plugin sources into Plugins. Loading never fails: faults are
// recorded in the plugin's StateCode and a stub instance is substituted.
type Loader struct {
	Logger core.Logger
	Host   HostOptions
	HTTP   HTTPOptions
	Vars   UserVariableSource
	// Validate may reject an instance before it is accepted. Nil accepts all.
	Validate func(*Instance) error

	CallTimeout time.Duration
	Backoff     func(attempt int) time.Duration
}

// ContentHash is the identity of a plugin source.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Load parses src into a Plugin.
func (l *Loader) Load(ctx context.Context, src Source) *Plugin {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &Plugin{Path: src.Path}

	inst, client, hash, err := l.instantiate(ctx, src)
	if err != nil {
		p.StateCode = StateParseFailure
		var mismatch *VersionMismatchError
		if errors.As(err, &mismatch) {
			p.StateCode = StateVersionMismatch
		}
		l.logger().Warn("plugin load failed", "path", src.Path, "state", p.StateCode, "error", err)
		inst = stubInstance()
		hash = ""
	}
	if inst.Platform == "" {
		hash = ""
	}

	p.Hash = hash
	p.Name = inst.Platform
	p.Instance = inst
	p.Methods = newDispatcher(p, client, l.logger().With("plugin", inst.Platform), l.CallTimeout, l.Backoff)
	return p
}

func (l *Loader) instantiate(ctx context.Context, src Source) (inst *Instance, client *HTTPClient, hash string, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, client, hash = nil, nil, ""
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()

	var text string
	if src.Factory != nil {
		text = src.Factory.Text
		client = NewHTTPClient(src.Factory.Name, l.HTTP)
		inst, err = src.Factory.New(FactoryEnv{
			HTTP:   client,
			Logger: l.logger().With("plugin", src.Factory.Name),
			Host:   l.Host,
		})
	} else {
		text = src.Text
		inst, client, err = l.evalScript(ctx, src)
	}
	if err != nil {
		return nil, nil, "", err
	}
	if inst == nil {
		return nil, nil, "", errors.New("plugin produced no instance")
	}
	if l.Validate != nil {
		if err := l.Validate(inst); err != nil {
			return nil, nil, "", err
		}
	}
	return inst, client, ContentHash(text), nil
}

func (l *Loader) evalScript(ctx context.Context, src Source) (*Instance, *HTTPClient, error) {
	if strings.TrimSpace(src.Text) == "" {
		return nil, nil, errors.New("empty plugin source")
	}
	base := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	log := l.logger().With("plugin", base)

	var platform atomic.Value
	platform.Store("")
	client := NewHTTPClient(base, l.HTTP)
	sb := newSandbox(log)
	host := &hostEnv{
		http:   client,
		jar:    l.HTTP.Jar,
		opts:   l.Host,
		logger: log,
		ctx:    sb.currentContext,
		vars: func() map[string]string {
			name, _ := platform.Load().(string)
			if l.Vars == nil || name == "" {
				return nil
			}
			return l.Vars(name)
		},
	}

	if err := sb.eval(ctx, src.Text, host); err != nil {
		return nil, nil, err
	}
	props, err := sb.properties(ctx)
	if err != nil {
		return nil, nil, err
	}
	inst := NewInstance(props, sb.methods())
	platform.Store(inst.Platform)
	return inst, client, nil
}

func (l *Loader) logger() core.Logger {
	if l.Logger == nil {
		return nopLogger{}
	}
	return l.Logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) Error(string, ...any)        {}
func (n nopLogger) With(...any) core.Logger { return n }

// VarsFromStore adapts a user variable store into a UserVariableSource.
// Store errors read as no variables.
func VarsFromStore(store core.UserVariableStore) UserVariableSource {
	if store == nil {
		return nil
	}
	return func(platform string) map[string]string {
		vars, err := store.UserVariables(context.Background(), platform)
		if err != nil {
			return nil
		}
		return vars
	}
}
