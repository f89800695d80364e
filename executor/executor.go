package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caffeineduck/pyhost/hostfunc"
	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Result holds the output and metadata of one exec.
type Result struct {
	Output   string
	Duration time.Duration
	Error    error
}

// Executor owns the wazero runtime and the compiled module cache. It is safe
// for concurrent use; sessions created from it run independently.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]wazero.CompiledModule
	registry *hostfunc.Registry
	logger   *log.Entry
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor. Functions in registry are available to every
// session.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = DefaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	e := &Executor{
		runtime:  rt,
		cache:    cache,
		compiled: make(map[string]wazero.CompiledModule),
		registry: registry,
		logger:   cfg.logger,
	}

	for _, mod := range cfg.precompile {
		if _, err := e.getCompiled(ctx, mod); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", mod.Key, err)
		}
	}

	return e, nil
}

// Run executes code in a fresh session and closes it afterwards. Output of
// display calls is routed to target.
func (e *Executor) Run(ctx context.Context, lang Language, mod Module, code, target string, opts ...SessionOption) Result {
	start := time.Now()

	s, err := e.NewSession(lang, mod, opts...)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}
	defer s.Close()

	result := s.Exec(ctx, code, target)
	result.Duration = time.Since(start)
	return result
}

// Compiled reports whether the module with the given key is cached.
func (e *Executor) Compiled(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.compiled[key]
	return ok
}

// getCompiled returns a cached compiled module, compiling if necessary.
func (e *Executor) getCompiled(ctx context.Context, mod Module) (wazero.CompiledModule, error) {
	e.mu.RLock()
	if compiled, ok := e.compiled[mod.Key]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	closed := e.closed
	e.mu.RUnlock()

	if closed {
		return nil, errors.New("executor closed")
	}
	if mod.Load == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModule, mod.Key)
	}

	// Load outside the lock: it may be a network fetch.
	wasm, err := mod.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load module %s: %w", mod.Key, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if compiled, ok := e.compiled[mod.Key]; ok {
		return compiled, nil
	}

	start := time.Now()
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", mod.Key, err)
	}
	e.logger.WithFields(log.Fields{
		"module":   mod.Key,
		"duration": time.Since(start),
	}).Debug("compiled module")

	e.compiled[mod.Key] = compiled
	return compiled, nil
}

// Close releases all resources held by the Executor.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DefaultCacheDir is where WithDiskCache stores compiled modules unless told
// otherwise.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "pyhost")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "pyhost")
	}
	return filepath.Join(os.TempDir(), "pyhost-cache")
}
