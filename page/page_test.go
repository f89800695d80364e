package page

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/caffeineduck/pyhost/config"
	"github.com/caffeineduck/pyhost/dom"
	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/internal/packages"
	"github.com/caffeineduck/pyhost/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct {
	source string
	target string
}

// fakeRuntime records runs. Source "raise <tb>" fails with a traceback.
type fakeRuntime struct {
	mu     sync.Mutex
	runs   []run
	closed bool
}

func (f *fakeRuntime) Run(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run{source, target})
	if tb, ok := strings.CutPrefix(source, "raise "); ok {
		return &executor.PythonError{Traceback: tb}
	}
	return nil
}

func (f *fakeRuntime) Globals() executor.Globals { return nil }

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

type fakeStarter struct {
	rt      *fakeRuntime
	modules []string
	err     error
}

func (s *fakeStarter) start(mod executor.Module, opts ...executor.SessionOption) (Runtime, error) {
	s.modules = append(s.modules, mod.Key)
	if s.err != nil {
		return nil, s.err
	}
	return s.rt, nil
}

func newTestRenderer(t *testing.T, opts ...Option) (*Renderer, *fakeStarter) {
	t.Helper()
	r := NewRenderer(nil, opts...)
	starter := &fakeStarter{rt: &fakeRuntime{}}
	r.start = starter.start
	return r, starter
}

func render(t *testing.T, r *Renderer, html, base string) *Page {
	t.Helper()
	p, err := r.Render(context.Background(), strings.NewReader(html), base)
	require.NoError(t, err)
	return p
}

func TestRenderRunsScriptsInOrder(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<html><body>
<py-config type="json">{"name": "demo"}</py-config>
<py-script>
    x = 1
    if x:
        print(x)
</py-script>
<py-script id="second">display('hi')</py-script>
</body></html>`, "page.html")

	require.NoError(t, p.Err)
	assert.Equal(t, "demo", *p.Config.Name)
	assert.Equal(t, []string{config.DefaultRuntimeSrc}, starter.modules)
	assert.True(t, starter.rt.closed)

	require.Len(t, starter.rt.runs, 2)
	assert.Equal(t, "x = 1\nif x:\n    print(x)\n", starter.rt.runs[0].source)
	assert.True(t, strings.HasPrefix(starter.rt.runs[0].target, "py-"))
	assert.Equal(t, run{"display('hi')", "second"}, starter.rt.runs[1])

	assert.Nil(t, p.Document.QuerySelector(ConfigTag), "config element should be removed")
	for _, tag := range p.Document.ElementsByTag(ScriptTag) {
		assert.Empty(t, tag.TextContent(), "script source should be cleared")
	}
}

func TestRenderOutputAttribute(t *testing.T) {
	r, starter := newTestRenderer(t)
	render(t, r, `<body>
<py-script output="mydiv">display('x')</py-script>
<py-script output="missing">display('y')</py-script>
<div id="mydiv"></div>
</body>`, "")

	require.Len(t, starter.rt.runs, 2)
	assert.Equal(t, "mydiv", starter.rt.runs[0].target)
	assert.NotEqual(t, "missing", starter.rt.runs[1].target)
}

func TestRenderScriptError(t *testing.T) {
	r, _ := newTestRenderer(t)
	tb := "Traceback (most recent call last):\nZeroDivisionError: division by zero"
	p := render(t, r, `<body><py-script id="s">raise `+tb+`</py-script><py-script id="t">ok</py-script></body>`, "")

	s, _ := p.Document.GetElementByID("s")
	pres := s.Children()
	require.Len(t, pres, 1)
	assert.Equal(t, tb, pres[0].TextContent())

	// Later scripts still run.
	next, _ := p.Document.GetElementByID("t")
	assert.Empty(t, next.Children())
	assert.NoError(t, p.Err)
}

func TestRenderScriptSrc(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('from file')"), 0o644))
	base := filepath.Join(dir, "index.html")

	r, starter := newTestRenderer(t)
	p := render(t, r, `<body><py-script src="main.py"></py-script><py-script id="bad" src="nope.py"></py-script></body>`, base)

	require.Len(t, starter.rt.runs, 1)
	assert.Equal(t, "print('from file')", starter.rt.runs[0].source)

	bad, _ := p.Document.GetElementByID("bad")
	assert.Contains(t, bad.InnerHTML(), `<pre class="py-error">`)
}

func TestRenderConfigSyntaxError(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<body><py-config>{"name": "x"}</py-config><py-script>x</py-script></body>`, "")

	assert.ErrorIs(t, p.Err, config.ErrSyntax)
	assert.Nil(t, p.Config)
	assert.Empty(t, starter.modules, "no runtime should start")

	banners := p.Document.Banners(dom.ErrorBannerClass)
	require.Len(t, banners, 1, "error reported once")
	assert.Contains(t, banners[0], "invalid TOML")
}

func TestRenderConfigFetchError(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<body><py-config src="missing.toml"></py-config></body>`, filepath.Join(t.TempDir(), "index.html"))

	require.Error(t, p.Err)
	assert.Empty(t, starter.modules)
	assert.Len(t, p.Document.Banners(dom.ErrorBannerClass), 1)
}

func TestRenderMultipleRuntimes(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<body><py-config>
[[runtimes]]
src = "https://example.com/a.wasm"
[[runtimes]]
src = "https://example.com/b.wasm"
</py-config></body>`, "")

	require.NoError(t, p.Err)
	assert.Equal(t, []string{"https://example.com/a.wasm"}, starter.modules)
	warnings := p.Document.Banners(dom.WarningBannerClass)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Only the first will be used")
}

func TestRenderRuntimeResolvesAgainstBase(t *testing.T) {
	r, starter := newTestRenderer(t)
	render(t, r, `<body><py-config type="json">{"runtimes": [{"src": "wasm/python.wasm"}]}</py-config></body>`, "https://example.com/app/index.html")

	assert.Equal(t, []string{"https://example.com/app/wasm/python.wasm"}, starter.modules)
}

func TestRenderUnsupportedRuntime(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<body><py-config type="json">{"runtimes": [{"src": "x.wasm", "lang": "ruby"}]}</py-config></body>`, "")

	assert.ErrorIs(t, p.Err, ErrUnsupportedRuntime)
	assert.Empty(t, starter.modules)
	assert.Len(t, p.Document.Banners(dom.ErrorBannerClass), 1)
}

func TestRenderStartFailure(t *testing.T) {
	r, starter := newTestRenderer(t, WithModule(executor.ModuleBytes("local", nil)))
	starter.err = errors.New("no wasm")
	p := render(t, r, `<body><py-script>x</py-script></body>`, "")

	assert.ErrorContains(t, p.Err, "no wasm")
	assert.Equal(t, []string{"local"}, starter.modules)
	assert.Len(t, p.Document.Banners(dom.ErrorBannerClass), 1)
}

func TestConfig(t *testing.T) {
	r, _ := newTestRenderer(t)
	cfg, err := r.Config(context.Background(), strings.NewReader(`<py-config>name = "cfg"</py-config>`), "")
	require.NoError(t, err)
	assert.Equal(t, "cfg", *cfg.Name)
	assert.Equal(t, 1.0, *cfg.SchemaVersion)
	require.NotNil(t, cfg.PyScript)
	assert.NotEmpty(t, cfg.PyScript.Time)

	cfg, err = r.Config(context.Background(), strings.NewReader(`<p>no config</p>`), "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRuntime(), cfg.Runtimes[0])
}

func TestStagePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.py"), []byte("X = 1"), 0o644))
	fetcher := source.NewFetcher(source.WithBase(filepath.Join(dir, "index.html")))

	staged, err := stagePaths(context.Background(), fetcher, []string{"helper.py"})
	require.NoError(t, err)
	defer os.RemoveAll(staged)

	data, err := os.ReadFile(filepath.Join(staged, "helper.py"))
	require.NoError(t, err)
	assert.Equal(t, "X = 1", string(data))

	_, err = stagePaths(context.Background(), fetcher, []string{"missing.py"})
	assert.Error(t, err)
}

func TestStagedName(t *testing.T) {
	tests := map[string]string{
		"helper.py":                      "helper.py",
		"lib/util.py":                    "util.py",
		"https://example.com/a/b.py?v=1": "b.py",
		"s3://bucket/pkg/mod.py":         "mod.py",
	}
	for ref, want := range tests {
		assert.Equal(t, want, stagedName(ref), ref)
	}
}

func TestDedent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"flat", "print(1)", "print(1)"},
		{"indented", "\n    a = 1\n    b = 2\n", "a = 1\nb = 2\n"},
		{"nested", "  if x:\n      y()\n", "if x:\n    y()\n"},
		{"blank lines inside", "    a\n\n    b", "a\n\nb"},
		{"mixed prefix", "\t a\n\t\tb", " a\n\tb"},
		{"crlf", "  a\r\n  b", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dedent(tt.in))
		})
	}
}

func TestRenderPackages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "already"), 0o755))

	r, starter := newTestRenderer(t, WithPackages(packages.NewInstaller(dir)))
	p := render(t, r, `<body><py-config>packages = ["already"]</py-config><py-script>import already</py-script></body>`, "")
	require.NoError(t, p.Err)
	assert.Len(t, starter.rt.runs, 1)

	// A package that cannot be installed stops the page before any script runs.
	r, starter = newTestRenderer(t, WithPackages(packages.NewInstaller(dir)))
	p = render(t, r, `<body><py-config>packages = ["numpy"]</py-config><py-script>import numpy</py-script></body>`, "")
	assert.ErrorIs(t, p.Err, packages.ErrBlocked)
	assert.Empty(t, starter.rt.runs)
	assert.Len(t, p.Document.Banners(dom.ErrorBannerClass), 1)
}

func TestRenderKeepsMarkupInSource(t *testing.T) {
	r, starter := newTestRenderer(t)
	p := render(t, r, `<body>
<py-config>description = "<i>demo</i>"</py-config>
<py-script>print(a<b and c>d)</py-script>
<py-script>print(1 &lt; 2)</py-script>
</body>`, "")

	require.NoError(t, p.Err)
	assert.Equal(t, "<i>demo</i>", *p.Config.Description)
	require.Len(t, starter.rt.runs, 2)
	assert.Equal(t, "print(a<b and c>d)", starter.rt.runs[0].source)
	assert.Equal(t, "print(1 < 2)", starter.rt.runs[1].source)
}

func TestKeepRawBodies(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`<py-script>a<b</py-script>`, `<py-script>a&lt;b</py-script>`},
		{`<PY-SCRIPT output="x">&amp;</Py-Script>`, `<PY-SCRIPT output="x">&amp;</Py-Script>`},
		{`<py-config type="json">{"a": "<b>"}</py-config>`, `<py-config type="json">{&#34;a&#34;: &#34;&lt;b&gt;&#34;}</py-config>`},
		{`<py-scripts>a<b</py-scripts>`, `<py-scripts>a<b</py-scripts>`},
		{`<p>a<b>c</b></p>`, `<p>a<b>c</b></p>`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keepRawBodies(tt.in), tt.in)
	}
}
