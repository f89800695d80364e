package pyscript

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/pyhost/dom"
	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime interprets one command per source:
//
//	display <text>  displays text into the run's target
//	raise <tb>      fails with a Python traceback
//	fail <msg>      fails outside the interpreter
type fakeRuntime struct {
	display hostfunc.Func
	targets []string
	last    *fakeDisplay
}

func newFakeRuntime(doc *dom.Document) *fakeRuntime {
	return &fakeRuntime{display: hostfunc.NewDisplay(doc)}
}

func (r *fakeRuntime) Run(ctx context.Context, source, target string) error {
	r.targets = append(r.targets, target)
	verb, rest, _ := strings.Cut(source, " ")
	switch verb {
	case "display":
		_, err := r.display(ctx, map[string]any{"target": target, "html": rest, "append": true})
		return err
	case "raise":
		return &executor.PythonError{Traceback: rest}
	case "fail":
		return errors.New(rest)
	}
	return nil
}

func (r *fakeRuntime) Globals() executor.Globals {
	return fakeGlobals{r}
}

type fakeGlobals struct {
	r *fakeRuntime
}

func (g fakeGlobals) Get(name string) (executor.Callable, bool) {
	if name != "display" {
		return nil, false
	}
	g.r.last = &fakeDisplay{r: g.r}
	return g.r.last, true
}

// fakeDisplay behaves like the interpreter's display outside a run: there is
// no current target, so one must be passed.
type fakeDisplay struct {
	r      *fakeRuntime
	args   []any
	kwargs map[string]any
}

func (d *fakeDisplay) Call(ctx context.Context, args ...any) (any, error) {
	return d.CallKwargs(ctx, args, nil)
}

func (d *fakeDisplay) CallKwargs(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	d.args, d.kwargs = args, kwargs
	req := map[string]any{"html": args[0], "append": true}
	if t, ok := kwargs["target"]; ok {
		req["target"] = t
	}
	if a, ok := kwargs["append"]; ok {
		req["append"] = a
	}
	return d.r.display(ctx, req)
}

func mustParse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s)
	require.NoError(t, err)
	return doc
}

func TestExecuteAssignsID(t *testing.T) {
	doc := mustParse(t, `<body><py-script></py-script></body>`)
	rt := newFakeRuntime(doc)
	el := doc.QuerySelector("py-script")

	Execute(context.Background(), rt, "display hello world", el)

	id := el.ID()
	assert.True(t, strings.HasPrefix(id, "py-"), "id %q", id)
	assert.Equal(t, []string{id}, rt.targets)
	assert.Equal(t, "<div>hello world</div>", el.InnerHTML())

	// An existing id is kept.
	Execute(context.Background(), rt, "display again", el)
	assert.Equal(t, id, el.ID())
	assert.Equal(t, []string{id, id}, rt.targets)
}

func TestExecutePythonError(t *testing.T) {
	doc := mustParse(t, `<body><div id="out"></div></body>`)
	rt := newFakeRuntime(doc)
	out, _ := doc.GetElementByID("out")

	tb := "Traceback (most recent call last):\n  File \"<exec>\", line 1, in <module>\nZeroDivisionError: division by zero\n"
	Execute(context.Background(), rt, "raise "+tb, out)

	pres := out.Children()
	require.Len(t, pres, 1)
	assert.Equal(t, "pre", pres[0].Tag())
	class, _ := pres[0].GetAttribute("class")
	assert.Equal(t, ErrorClass, class)
	assert.Equal(t, tb, pres[0].TextContent())

	// Routing ended with the run: a display without a target has nowhere to go.
	err := Display(context.Background(), rt, "stray", nil)
	assert.ErrorIs(t, err, hostfunc.ErrImplicitTarget)
	assert.Len(t, out.Children(), 1)
}

func TestExecuteHostError(t *testing.T) {
	doc := mustParse(t, `<body><div id="out"></div></body>`)
	rt := newFakeRuntime(doc)
	out, _ := doc.GetElementByID("out")

	Execute(context.Background(), rt, "fail session closed <now>", out)

	pres := out.Children()
	require.Len(t, pres, 1)
	assert.Equal(t, "session closed <now>", pres[0].TextContent())
	assert.Contains(t, out.InnerHTML(), "&lt;now&gt;")
}

func TestDisplay(t *testing.T) {
	doc := mustParse(t, `<body><div id="a">old</div></body>`)
	rt := newFakeRuntime(doc)
	a, _ := doc.GetElementByID("a")

	no := false
	err := Display(context.Background(), rt, "new", &DisplayOptions{Target: "a", Append: &no})
	require.NoError(t, err)
	assert.Equal(t, "new", a.InnerHTML())

	err = Display(context.Background(), rt, "more", &DisplayOptions{Target: "a"})
	require.NoError(t, err)
	assert.Equal(t, "new<div>more</div>", a.InnerHTML())
}

func TestDisplayCallingConvention(t *testing.T) {
	doc := mustParse(t, `<body><div id="a"></div></body>`)
	rt := newFakeRuntime(doc)

	Display(context.Background(), rt, "x", nil)
	assert.Equal(t, []any{"x"}, rt.last.args)
	assert.Nil(t, rt.last.kwargs)

	yes := true
	Display(context.Background(), rt, "y", &DisplayOptions{Target: "a", Append: &yes})
	assert.Equal(t, []any{"y"}, rt.last.args)
	assert.Equal(t, map[string]any{"target": "a", "append": true}, rt.last.kwargs)

	assert.Equal(t, map[string]any{}, (&DisplayOptions{}).kwargs())
}

func TestDisplayMissing(t *testing.T) {
	rt := emptyRuntime{}
	assert.ErrorIs(t, Display(context.Background(), rt, "x", nil), ErrNoDisplay)
}

type emptyRuntime struct{}

func (emptyRuntime) Run(context.Context, string, string) error { return nil }
func (emptyRuntime) Globals() executor.Globals                 { return emptyGlobals{} }

type emptyGlobals struct{}

func (emptyGlobals) Get(string) (executor.Callable, bool) { return nil, false }

func TestExecuteObserver(t *testing.T) {
	doc := mustParse(t, `<body><div id="out"></div></body>`)
	rt := newFakeRuntime(doc)
	out, _ := doc.GetElementByID("out")

	var got []error
	observe := WithObserver(func(target string, err error, d time.Duration) {
		assert.Equal(t, "out", target)
		got = append(got, err)
	})

	Execute(context.Background(), rt, "display ok", out, observe)
	Execute(context.Background(), rt, "fail nope", out, observe)

	require.Len(t, got, 2)
	assert.NoError(t, got[0])
	assert.EqualError(t, got[1], "nope")
}
