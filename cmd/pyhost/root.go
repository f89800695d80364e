package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/pyhost/config"
	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/internal/metrics"
	"github.com/caffeineduck/pyhost/internal/packages"
	"github.com/caffeineduck/pyhost/page"
	"github.com/caffeineduck/pyhost/source"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pyhost",
	Short: "Render HTML pages with embedded Python using WebAssembly",
	Long: `pyhost - Run the <py-script> blocks of HTML pages in a WebAssembly Python.

A page may carry a <py-config> element (TOML by default, JSON with
type="json") naming the runtime, packages and files it needs. Every
<py-script> runs in one interpreter session in document order; display()
writes into the page and failures render as <pre class="py-error"> blocks.

Scripts have no access to the network unless hosts are allowed with
--allow-host.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("no-cache", false, "Disable compilation cache")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text, json")
	flags.String("runtime", "", "Interpreter module to use instead of the configured runtime (path or URL)")
	flags.String("python-lib", "", "Directory holding the Python standard library, mounted at "+page.PythonLibDir)
	flags.String("packages-dir", filepath.Join(".pyhost", "packages"), "Directory packages are installed into")
	flags.String("memory", "256mb", "Memory limit: 64mb, 256mb, 1gb")
	flags.Duration("timeout", 30*time.Second, "Timeout of each script")
	flags.StringSlice("allow-host", nil, "Allow pyfetch to reach host (repeatable)")
	flags.Int("http-max-url", hostfunc.DefaultMaxURLLength, "Max pyfetch URL length")
	flags.Int64("http-max-body", hostfunc.DefaultMaxBodySize, "Max pyfetch response body size")
	flags.String("api-key", "", "X-API-Key header sent when fetching http(s) sources")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	level, err := log.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	return nil
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "64mb":
		return executor.MemoryLimit64MB
	case "256mb":
		return executor.MemoryLimit256MB
	case "1gb":
		return executor.MemoryLimit1GB
	default:
		return 0 // use default
	}
}

func newExecutor(cmd *cobra.Command, precompile ...executor.Module) (*executor.Executor, error) {
	noCache, _ := cmd.Flags().GetBool("no-cache")
	memoryLimit, _ := cmd.Flags().GetString("memory")

	var opts []executor.ExecutorOption
	if !noCache {
		opts = append(opts, executor.WithDiskCache())
	}
	if pages := parseMemoryLimit(memoryLimit); pages > 0 {
		opts = append(opts, executor.WithMemoryLimit(pages))
	}
	if len(precompile) > 0 {
		opts = append(opts, executor.WithPrecompile(precompile...))
	}
	return executor.New(hostfunc.NewRegistry(), opts...)
}

func newFetcher(cmd *cobra.Command) *source.Fetcher {
	apiKey, _ := cmd.Flags().GetString("api-key")
	return source.NewFetcher(source.WithAPIKey(apiKey))
}

func sessionOptions(cmd *cobra.Command) []executor.SessionOption {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	allowedHosts, _ := cmd.Flags().GetStringSlice("allow-host")
	httpMaxURL, _ := cmd.Flags().GetInt("http-max-url")
	httpMaxBody, _ := cmd.Flags().GetInt64("http-max-body")

	opts := []executor.SessionOption{executor.WithSessionTimeout(timeout)}
	if len(allowedHosts) > 0 {
		opts = append(opts,
			executor.WithSessionAllowedHosts(allowedHosts),
			executor.WithSessionHTTPMaxURLLength(httpMaxURL),
			executor.WithSessionHTTPMaxBodySize(httpMaxBody),
		)
	}
	return opts
}

// runtimeModule returns the module named by --runtime, or ok false when the
// flag is unset.
func runtimeModule(cmd *cobra.Command, fetcher *source.Fetcher) (executor.Module, bool) {
	src, _ := cmd.Flags().GetString("runtime")
	if src == "" {
		return executor.Module{}, false
	}
	return fetchedModule(fetcher, src), true
}

// defaultModule is --runtime or the default runtime.
func defaultModule(cmd *cobra.Command, fetcher *source.Fetcher) executor.Module {
	if mod, ok := runtimeModule(cmd, fetcher); ok {
		return mod
	}
	return fetchedModule(fetcher, config.DefaultRuntimeSrc)
}

func fetchedModule(fetcher *source.Fetcher, src string) executor.Module {
	return executor.Module{
		Key: src,
		Load: func(ctx context.Context) ([]byte, error) {
			log.WithField("src", src).Info("fetching runtime")
			return fetcher.FetchBytes(ctx, src)
		},
	}
}

func newRenderer(cmd *cobra.Command, exec *executor.Executor, m *metrics.Metrics) *page.Renderer {
	pythonLib, _ := cmd.Flags().GetString("python-lib")
	packagesDir, _ := cmd.Flags().GetString("packages-dir")
	fetcher := newFetcher(cmd)

	opts := []page.Option{
		page.WithFetcher(fetcher),
		page.WithMetrics(m),
		page.WithPackages(packages.NewInstaller(packagesDir, packages.WithFetcher(fetcher))),
		page.WithSessionOptions(sessionOptions(cmd)...),
	}
	if pythonLib != "" {
		opts = append(opts, page.WithPythonLib(pythonLib))
	}
	if mod, ok := runtimeModule(cmd, fetcher); ok {
		opts = append(opts, page.WithModule(mod))
	}
	return page.NewRenderer(exec, opts...)
}

// interpreterSessionOptions are the options for sessions started outside a
// page: run and repl.
func interpreterSessionOptions(cmd *cobra.Command, display hostfunc.Func) []executor.SessionOption {
	pythonLib, _ := cmd.Flags().GetString("python-lib")

	opts := sessionOptions(cmd)
	opts = append(opts, executor.WithSessionHostFunc("display", display))
	for name, fn := range hostfunc.NewStorage().Funcs() {
		opts = append(opts, executor.WithSessionHostFunc(name, fn))
	}
	if pythonLib != "" {
		opts = append(opts, executor.WithSessionDirMount(pythonLib, page.PythonLibDir, true))
	}
	return opts
}
