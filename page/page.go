// Package page renders HTML pages that embed <py-config> and <py-script>
// elements: it resolves the page configuration, starts the configured
// interpreter and runs every script block in document order.
//
// The bodies of <py-script> and <py-config> are taken as written: markup
// inside them is source text, and character references such as &lt; are
// decoded once.
package page

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/caffeineduck/pyhost/config"
	"github.com/caffeineduck/pyhost/dom"
	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/internal/metrics"
	"github.com/caffeineduck/pyhost/internal/packages"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/caffeineduck/pyhost/pyscript"
	"github.com/caffeineduck/pyhost/source"
	log "github.com/sirupsen/logrus"
)

const (
	ConfigTag = "py-config"
	ScriptTag = "py-script"

	// PathsDir is where files listed under "paths" appear inside the
	// interpreter. It is on PYTHONPATH.
	PathsDir = "/home/pyhost"

	// PackagesDir is where installed packages appear inside the
	// interpreter. It is on PYTHONPATH.
	PackagesDir = "/home/pyhost-packages"

	// PythonLibDir is where WithPythonLib mounts the standard library.
	PythonLibDir = "/usr/local/lib"
)

var (
	ErrNoRuntime          = errors.New("no runtime configured")
	ErrUnsupportedRuntime = errors.New("unsupported runtime language")
)

const multipleRuntimesWarning = "Multiple runtimes are not supported yet.<br />Only the first will be used"

// Runtime is a started interpreter session.
type Runtime interface {
	pyscript.Runtime
	Close() error
}

type startFunc func(mod executor.Module, opts ...executor.SessionOption) (Runtime, error)

// Renderer renders pages. It is safe for concurrent use; every render gets
// its own document and interpreter session.
type Renderer struct {
	start       startFunc
	fetcher     *source.Fetcher
	storage     *hostfunc.Storage
	metrics     *metrics.Metrics
	logger      *log.Entry
	module      *executor.Module
	pythonLib   string
	packages    *packages.Installer
	sessionOpts []executor.SessionOption
}

type Option func(*Renderer)

// WithFetcher sets how config, script, path and runtime references are read.
// Relative references resolve against the base passed to Render.
func WithFetcher(f *source.Fetcher) Option {
	return func(r *Renderer) {
		r.fetcher = f
	}
}

// WithStorage shares one localStorage between renders.
func WithStorage(s *hostfunc.Storage) Option {
	return func(r *Renderer) {
		r.storage = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Renderer) {
		r.metrics = m
	}
}

func WithLogger(entry *log.Entry) Option {
	return func(r *Renderer) {
		r.logger = entry
	}
}

// WithModule runs every page on mod instead of the module named by the
// page's runtime config.
func WithModule(mod executor.Module) Option {
	return func(r *Renderer) {
		r.module = &mod
	}
}

// WithPythonLib mounts dir read-only at PythonLibDir in every session.
func WithPythonLib(dir string) Option {
	return func(r *Renderer) {
		r.pythonLib = dir
	}
}

// WithPackages installs the packages a page config lists with inst and
// makes them importable. Without it listed packages are ignored.
func WithPackages(inst *packages.Installer) Option {
	return func(r *Renderer) {
		r.packages = inst
	}
}

// WithSessionOptions adds options to every session the renderer starts.
func WithSessionOptions(opts ...executor.SessionOption) Option {
	return func(r *Renderer) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

func NewRenderer(exec *executor.Executor, opts ...Option) *Renderer {
	r := &Renderer{
		fetcher: source.NewFetcher(),
		storage: hostfunc.NewStorage(),
		logger:  log.WithField("component", "page"),
	}
	r.start = func(mod executor.Module, opts ...executor.SessionOption) (Runtime, error) {
		s, err := exec.NewSession(python.New(), mod, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Page is a rendered page.
type Page struct {
	Document *dom.Document
	// Config is the resolved configuration, nil when it could not be loaded.
	Config *config.AppConfig
	// Err is why scripts did not run, if they did not. It has already been
	// shown in the page's error banner.
	Err error
}

// Render parses the page read from in and runs its scripts. base is the
// page's own location; relative references resolve against it. Failures of
// the configuration or the interpreter are shown in the page and reported
// in Page.Err; the returned error is only for input that is not HTML.
func (r *Renderer) Render(ctx context.Context, in io.Reader, base string) (*Page, error) {
	start := time.Now()
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	doc, err := parsePage(data)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	p := &Page{Document: doc}
	logger := r.logger.WithField("page", base)
	fetcher := r.fetcher.Rebase(base)

	status := metrics.StatusOK
	defer func() {
		r.metrics.RecordRender(status, time.Since(start))
	}()

	p.Config, p.Err = r.loadConfig(ctx, doc, fetcher, logger)
	if p.Err != nil {
		status = metrics.StatusConfigError
		return p, nil
	}

	if err := r.run(ctx, doc, p.Config, fetcher, logger); err != nil {
		logger.WithError(err).Error("failed to start runtime")
		doc.ShowError(html.EscapeString(err.Error()))
		p.Err = err
		status = metrics.StatusError
	}
	return p, nil
}

// Config resolves the configuration of the page read from in without
// running anything.
func (r *Renderer) Config(ctx context.Context, in io.Reader, base string) (*config.AppConfig, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	doc, err := parsePage(data)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return r.loadConfig(ctx, doc, r.fetcher.Rebase(base), r.logger.WithField("page", base))
}

func (r *Renderer) loadConfig(ctx context.Context, doc *dom.Document, fetcher *source.Fetcher, logger *log.Entry) (*config.AppConfig, error) {
	reporter := &trackingReporter{doc: doc}
	loader := config.NewLoader(
		config.WithFetcher(fetcher),
		config.WithReporter(reporter),
		config.WithLogger(logger.WithField("component", "config")),
	)

	// A nil *dom.Element must not reach the loader as a non-nil interface.
	var el config.Element
	if cfgEl := doc.QuerySelector(ConfigTag); cfgEl != nil {
		el = cfgEl
		defer cfgEl.Remove()
	}

	cfg, err := loader.Load(ctx, el)
	if err != nil {
		if !reporter.reported {
			doc.ShowError(html.EscapeString(err.Error()))
		}
		return nil, err
	}
	return cfg, nil
}

func (r *Renderer) run(ctx context.Context, doc *dom.Document, cfg *config.AppConfig, fetcher *source.Fetcher, logger *log.Entry) error {
	mod, err := r.resolveModule(cfg, fetcher, doc, logger)
	if err != nil {
		return err
	}

	opts := append([]executor.SessionOption{}, r.sessionOpts...)
	opts = append(opts, executor.WithSessionHostFunc("display", hostfunc.NewDisplay(doc)))
	for name, fn := range r.storage.Funcs() {
		opts = append(opts, executor.WithSessionHostFunc(name, fn))
	}
	if r.pythonLib != "" {
		opts = append(opts, executor.WithSessionDirMount(r.pythonLib, PythonLibDir, true))
	}

	var pythonPath []string
	if len(cfg.Packages) > 0 {
		if r.packages == nil {
			logger.WithField("packages", cfg.Packages).Warn("no package installer configured, ignoring packages")
		} else {
			for _, pkg := range cfg.Packages {
				if err := r.packages.Ensure(ctx, pkg); err != nil {
					return fmt.Errorf("install %s: %w", pkg, err)
				}
			}
			opts = append(opts, executor.WithSessionDirMount(r.packages.Dir(), PackagesDir, true))
			pythonPath = append(pythonPath, PackagesDir)
		}
	}

	if len(cfg.Paths) > 0 {
		dir, err := stagePaths(ctx, fetcher, cfg.Paths)
		if err != nil {
			return err
		}
		defer removeStaged(dir, logger)
		opts = append(opts, executor.WithSessionDirMount(dir, PathsDir, true))
		pythonPath = append(pythonPath, PathsDir)
	}

	if len(pythonPath) > 0 {
		opts = append(opts, executor.WithSessionEnv("PYTHONPATH", strings.Join(pythonPath, ":")))
	}

	session, err := r.start(mod, opts...)
	if err != nil {
		return fmt.Errorf("start %s: %w", mod.Key, err)
	}
	r.metrics.SessionOpened()
	defer func() {
		session.Close()
		r.metrics.SessionClosed()
	}()

	observe := pyscript.WithObserver(func(target string, err error, d time.Duration) {
		r.metrics.RecordScript(err, d)
	})

	// Scripts share one interpreter and run strictly in document order.
	for _, tag := range doc.ElementsByTag(ScriptTag) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.runScript(ctx, doc, session, fetcher, tag, logger, observe)
	}
	return nil
}

func (r *Renderer) resolveModule(cfg *config.AppConfig, fetcher *source.Fetcher, doc *dom.Document, logger *log.Entry) (executor.Module, error) {
	if r.module != nil {
		return *r.module, nil
	}

	rt, ok := cfg.PrimaryRuntime()
	if !ok || rt.Src == "" {
		return executor.Module{}, ErrNoRuntime
	}
	if len(cfg.Runtimes) > 1 {
		logger.Warn("multiple runtimes configured, using the first")
		doc.ShowWarning(multipleRuntimesWarning)
	}
	if rt.Lang != "" && rt.Lang != "python" {
		return executor.Module{}, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, rt.Lang)
	}

	ref := fetcher.Resolve(rt.Src)
	return executor.Module{
		Key: ref,
		Load: func(ctx context.Context) ([]byte, error) {
			logger.WithField("src", ref).Info("fetching runtime")
			return fetcher.FetchBytes(ctx, rt.Src)
		},
	}, nil
}

func (r *Renderer) runScript(ctx context.Context, doc *dom.Document, rt Runtime, fetcher *source.Fetcher, tag *dom.Element, logger *log.Entry, opts ...pyscript.Option) {
	code := tag.TextContent()
	if src, ok := tag.GetAttribute("src"); ok && src != "" {
		fetched, err := fetcher.Fetch(ctx, src)
		if err != nil {
			logger.WithError(err).WithField("src", src).Error("failed to fetch script")
			tag.SetTextContent("")
			tag.AppendElement("pre", pyscript.ErrorClass, err.Error())
			return
		}
		code = fetched
	}
	tag.SetTextContent("")

	out := tag
	if id, ok := tag.GetAttribute("output"); ok && id != "" {
		if el, found := doc.GetElementByID(id); found {
			out = el
		} else {
			logger.WithField("output", id).Warn("output element not found, writing into the script tag")
		}
	}

	pyscript.Execute(ctx, rt, dedent(code), out, append(opts, pyscript.WithLogger(logger.WithField("component", "pyscript")))...)
}

// trackingReporter shows config errors in the page and remembers that it did.
type trackingReporter struct {
	doc      *dom.Document
	reported bool
}

func (t *trackingReporter) ShowError(msg string) {
	t.reported = true
	t.doc.ShowError(msg)
}

// dedent strips the leading blank lines and the indentation common to all
// non-blank lines, so scripts can be indented with the surrounding markup.
func dedent(code string) string {
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}

	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}
