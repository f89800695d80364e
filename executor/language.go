package executor

import "context"

// Language describes how to start an interpreter module in session mode.
type Language interface {
	// Name identifies the language in logs, e.g. "python".
	Name() string

	// Bootstrap returns the interpreter source that installs the host
	// bindings and enters the command loop.
	Bootstrap() string

	// Args returns the command line passed to the module.
	// For Python: []string{"python", "-c", bootstrap}
	Args(bootstrap string) []string
}

// Module names an interpreter binary. Key is the compile cache key, usually
// the location the binary was fetched from. Load is only called on a cache
// miss.
type Module struct {
	Key  string
	Load func(ctx context.Context) ([]byte, error)
}

// ModuleBytes returns a Module backed by an in-memory binary.
func ModuleBytes(key string, wasm []byte) Module {
	return Module{
		Key: key,
		Load: func(context.Context) ([]byte, error) {
			return wasm, nil
		},
	}
}
