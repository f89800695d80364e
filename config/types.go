package config

import (
	"encoding/json"
	"maps"
	"slices"
)

// Version is stamped into every resolved AppConfig. Overridden at build time
// with -ldflags "-X github.com/caffeineduck/pyhost/config.Version=...".
var Version = "0.1.0"

// Default runtime: a WASI build of CPython.
const (
	DefaultRuntimeSrc  = "https://github.com/vmware-labs/webassembly-language-runtimes/releases/download/python%2F3.12.0%2B20231211-040d5a6/python-3.12.0.wasm"
	DefaultRuntimeName = "python"
	DefaultRuntimeLang = "python"
)

// metadataKey holds the runtime stamp. It is never taken from user input.
const metadataKey = "pyscript"

// RuntimeConfig describes one interpreter runtime to load.
type RuntimeConfig struct {
	Src  string `json:"src,omitempty"`
	Name string `json:"name,omitempty"`
	Lang string `json:"lang,omitempty"`
}

// DefaultRuntime returns the runtime used when a config names none.
func DefaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		Src:  DefaultRuntimeSrc,
		Name: DefaultRuntimeName,
		Lang: DefaultRuntimeLang,
	}
}

// Metadata is attached to every resolved AppConfig under the "pyscript" key.
type Metadata struct {
	Version string `json:"version"`
	Time    string `json:"time"`
}

// AppConfig is the normalized page configuration.
//
// Recognized keys are typed optional fields; nil means "not set". Keys outside
// the schema are kept verbatim in Extra.
type AppConfig struct {
	Name            *string
	Description     *string
	Version         *string
	SchemaVersion   *float64
	Type            *string
	AuthorName      *string
	AuthorEmail     *string
	License         *string
	AutocloseLoader *bool
	Runtimes        []RuntimeConfig
	Packages        []string
	Paths           []string
	Plugins         []string

	PyScript *Metadata
	Extra    map[string]any
}

// Default returns a fresh copy of the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		SchemaVersion:   ptr(1.0),
		Type:            ptr("app"),
		AutocloseLoader: ptr(true),
		Runtimes:        []RuntimeConfig{DefaultRuntime()},
		Packages:        []string{},
		Paths:           []string{},
		Plugins:         []string{},
	}
}

// IsEmpty reports whether c carries no keys at all. A nil config is empty.
func (c *AppConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, f := range schema {
		if f.isSet(c) {
			return false
		}
	}
	return len(c.Extra) == 0 && c.PyScript == nil
}

// Get returns the value stored under key, recognized or not.
func (c *AppConfig) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	if f, ok := fieldByKey(key); ok {
		if !f.isSet(c) {
			return nil, false
		}
		return f.value(c), true
	}
	if key == metadataKey && c.PyScript != nil {
		return *c.PyScript, true
	}
	v, ok := c.Extra[key]
	return v, ok
}

// Clone returns a copy of c. Extra values are copied shallowly.
func (c *AppConfig) Clone() *AppConfig {
	if c == nil {
		return nil
	}
	out := &AppConfig{}
	for _, f := range schema {
		f.copy(out, c)
	}
	if c.PyScript != nil {
		md := *c.PyScript
		out.PyScript = &md
	}
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

// Map flattens c into a single key/value map, the shape it has on the wire.
func (c *AppConfig) Map() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(schema)+len(c.Extra)+1)
	maps.Copy(out, c.Extra)
	for _, f := range schema {
		if f.isSet(c) {
			out[f.key] = f.value(c)
		}
	}
	if c.PyScript != nil {
		out[metadataKey] = *c.PyScript
	}
	return out
}

// MarshalJSON encodes c as one flat object.
func (c *AppConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// PrimaryRuntime returns the first configured runtime.
func (c *AppConfig) PrimaryRuntime() (RuntimeConfig, bool) {
	if c == nil || len(c.Runtimes) == 0 {
		return RuntimeConfig{}, false
	}
	return c.Runtimes[0], true
}

func ptr[T any](v T) *T {
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
