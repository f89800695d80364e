package executor

import (
	"time"

	"github.com/caffeineduck/pyhost/hostfunc"
	log "github.com/sirupsen/logrus"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Module
	memoryLimitPages uint32 // each page is 64KB, 0 = wazero default (4GB)
	logger           *log.Entry
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger: log.WithField("component", "executor"),
	}
}

// WithDiskCache enables the persistent compilation cache. Without a directory
// it uses $XDG_CACHE_HOME/pyhost or ~/.cache/pyhost.
//
//	executor.New(registry, executor.WithDiskCache())
//	executor.New(registry, executor.WithDiskCache("/tmp/cache"))
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the given modules when the Executor is created.
func WithPrecompile(mods ...Module) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = mods
	}
}

// WithMemoryLimit caps the memory of every module, in 64KB pages.
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

func WithLogger(entry *log.Entry) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = entry
	}
}

const (
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout          time.Duration
	startTimeout     time.Duration
	allowedHosts     []string
	httpMaxURLLength int
	httpMaxBodySize  int64
	httpTimeout      time.Duration
	hostFuncs        map[string]hostfunc.Func
	mounts           []dirMount
	env              map[string]string
}

type dirMount struct {
	hostDir  string
	guestDir string
	readOnly bool
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		timeout:      30 * time.Second,
		startTimeout: 60 * time.Second,
		hostFuncs:    make(map[string]hostfunc.Func),
		env:          make(map[string]string),
	}
}

// WithSessionTimeout bounds every exec and call. Zero disables the limit.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithSessionStartTimeout bounds how long the interpreter may take to reach
// its command loop.
func WithSessionStartTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.startTimeout = d
	}
}

// WithSessionAllowedHosts enables pyfetch for the given hosts and their
// subdomains.
func WithSessionAllowedHosts(hosts []string) SessionOption {
	return func(c *sessionConfig) {
		c.allowedHosts = hosts
	}
}

func WithSessionHTTPTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.httpTimeout = d
	}
}

func WithSessionHTTPMaxURLLength(size int) SessionOption {
	return func(c *sessionConfig) {
		c.httpMaxURLLength = size
	}
}

func WithSessionHTTPMaxBodySize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.httpMaxBodySize = size
	}
}

// WithSessionHostFunc registers fn for this session only. It overrides a
// function of the same name in the executor's registry.
func WithSessionHostFunc(name string, fn hostfunc.Func) SessionOption {
	return func(c *sessionConfig) {
		c.hostFuncs[name] = fn
	}
}

// WithSessionDirMount preopens hostDir inside the module at guestDir.
//
//	executor.WithSessionDirMount("./python/lib", "/usr/local/lib", true)
func WithSessionDirMount(hostDir, guestDir string, readOnly bool) SessionOption {
	return func(c *sessionConfig) {
		c.mounts = append(c.mounts, dirMount{hostDir: hostDir, guestDir: guestDir, readOnly: readOnly})
	}
}

func WithSessionEnv(key, value string) SessionOption {
	return func(c *sessionConfig) {
		c.env[key] = value
	}
}
