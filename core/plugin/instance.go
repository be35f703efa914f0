package plugin

import (
	"context"
	"strings"
)

// UserVariable declares one user-configurable plugin setting.
type UserVariable struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Hint  string `json:"hint,omitempty"`
	Value string `json:"value,omitempty"`
}

// Instance is a loaded, normalized plugin: its declared properties plus the
// capability methods it implements. Immutable after construction.
type Instance struct {
	Platform      string         `json:"platform"`
	Version       string         `json:"version,omitempty"`
	Author        string         `json:"author,omitempty"`
	SrcURL        string         `json:"srcUrl,omitempty"`
	AppVersion    string         `json:"appVersion,omitempty"`
	Description   string         `json:"description,omitempty"`
	CacheControl  string         `json:"cacheControl,omitempty"`
	UserVariables []UserVariable `json:"userVariables,omitempty"`

	methods map[Capability]Method
}

// NewInstance builds an instance from properties and methods. Nil methods
// and user variables without a key are dropped.
func NewInstance(props Instance, methods map[Capability]Method) *Instance {
	inst := props
	inst.Platform = strings.TrimSpace(inst.Platform)
	inst.UserVariables = filterUserVariables(props.UserVariables)
	inst.methods = make(map[Capability]Method, len(methods))
	for c, m := range methods {
		if m != nil {
			inst.methods[c] = m
		}
	}
	return &inst
}

// stubInstance stands in for a plugin that failed to load.
func stubInstance() *Instance {
	return NewInstance(Instance{}, nil)
}

// Capabilities returns the set of implemented capabilities.
func (i *Instance) Capabilities() CapabilitySet {
	set := make(CapabilitySet, len(i.methods))
	for c := range i.methods {
		set[c] = struct{}{}
	}
	return set
}

// Supports reports whether the instance implements c.
func (i *Instance) Supports(c Capability) bool {
	_, ok := i.methods[c]
	return ok
}

// Call invokes capability c. Callers must check Supports first.
func (i *Instance) Call(ctx context.Context, c Capability, args ...any) (any, error) {
	m, ok := i.methods[c]
	if !ok {
		return nil, nil
	}
	return m(ctx, args...)
}

func filterUserVariables(vars []UserVariable) []UserVariable {
	if len(vars) == 0 {
		return nil
	}
	out := make([]UserVariable, 0, len(vars))
	for _, v := range vars {
		if strings.TrimSpace(v.Key) == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// StateCode marks a plugin that loaded with a fault.
type StateCode string

const (
	StateOK              StateCode = ""
	StateVersionMismatch StateCode = "version-mismatch"
	StateParseFailure    StateCode = "parse-failure"
)

// Plugin is one loaded unit: an instance plus host-computed identity.
// Hash is empty for plugins that must not be addressable.
type Plugin struct {
	Hash      string
	Name      string
	Path      string
	StateCode StateCode
	Instance  *Instance
	Methods   *Dispatcher
}

// Addressable reports whether the plugin may enter the registry.
func (p *Plugin) Addressable() bool {
	return p != nil && p.Hash != ""
}

// Delegate is a function-free snapshot of a plugin, safe to hand to less
// privileged consumers.
type Delegate struct {
	Hash            string         `json:"hash"`
	Path            string         `json:"path"`
	Name            string         `json:"name"`
	Platform        string         `json:"platform"`
	Version         string         `json:"version,omitempty"`
	Author          string         `json:"author,omitempty"`
	SrcURL          string         `json:"srcUrl,omitempty"`
	AppVersion      string         `json:"appVersion,omitempty"`
	Description     string         `json:"description,omitempty"`
	StateCode       StateCode      `json:"stateCode,omitempty"`
	UserVariables   []UserVariable `json:"userVariables,omitempty"`
	SupportedMethod []string       `json:"supportedMethod"`
}

// Delegate projects the plugin into its function-free form.
func (p *Plugin) Delegate() Delegate {
	inst := p.Instance
	if inst == nil {
		inst = stubInstance()
	}
	return Delegate{
		Hash:            p.Hash,
		Path:            p.Path,
		Name:            p.Name,
		Platform:        inst.Platform,
		Version:         inst.Version,
		Author:          inst.Author,
		SrcURL:          inst.SrcURL,
		AppVersion:      inst.AppVersion,
		Description:     inst.Description,
		StateCode:       p.StateCode,
		UserVariables:   append([]UserVariable(nil), inst.UserVariables...),
		SupportedMethod: inst.Capabilities().Names(),
	}
}
