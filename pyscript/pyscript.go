// Package pyscript runs script blocks against an interpreter session and
// renders their failures into the page.
package pyscript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caffeineduck/pyhost/dom"
	"github.com/caffeineduck/pyhost/executor"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrorClass is the class of the <pre> a failed script renders into its
// output element.
const ErrorClass = "py-error"

var ErrNoDisplay = errors.New("display is not defined")

// Runtime is an initialized interpreter. Run executes source with display
// output routed to the element whose id is target; the routing lasts only
// for that call. *executor.Session implements Runtime.
type Runtime interface {
	Globals() executor.Globals
	Run(ctx context.Context, source, target string) error
}

type Option func(*options)

type options struct {
	logger  *log.Entry
	observe func(target string, err error, d time.Duration)
}

func WithLogger(entry *log.Entry) Option {
	return func(o *options) {
		o.logger = entry
	}
}

// WithObserver sets a function called after every run with its outcome.
func WithObserver(fn func(target string, err error, d time.Duration)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: log.WithField("component", "pyscript")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EnsureID returns the id of el, assigning a fresh py-<uuid> when it has
// none.
func EnsureID(el *dom.Element) string {
	if id := el.ID(); id != "" {
		return id
	}
	id := "py-" + uuid.NewString()
	el.SetID(id)
	return id
}

// Execute runs source with display output going to out. A failure is logged
// and rendered into out as a <pre class="py-error"> holding the traceback,
// or the error text for failures outside the interpreter. Execute does not
// return the failure; the rendered block is how it surfaces.
func Execute(ctx context.Context, rt Runtime, source string, out *dom.Element, opts ...Option) {
	o := buildOptions(opts)
	target := EnsureID(out)
	logger := o.logger.WithField("target", target)

	start := time.Now()
	err := rt.Run(ctx, source, target)
	if o.observe != nil {
		o.observe(target, err, time.Since(start))
	}
	if err == nil {
		return
	}

	var text string
	var pyErr *executor.PythonError
	if errors.As(err, &pyErr) {
		text = pyErr.Traceback
		logger.Error(text)
	} else {
		text = err.Error()
		logger.WithError(err).Error("script failed")
	}
	out.AppendElement("pre", ErrorClass, text)
}

// DisplayOptions are passed to the interpreter's display as keyword
// arguments. A zero field is left out.
type DisplayOptions struct {
	Target string
	Append *bool
}

func (o *DisplayOptions) kwargs() map[string]any {
	kw := make(map[string]any)
	if o.Target != "" {
		kw["target"] = o.Target
	}
	if o.Append != nil {
		kw["append"] = *o.Append
	}
	return kw
}

// Display calls the interpreter's display with value, positionally when opts
// is nil and with keyword arguments otherwise.
func Display(ctx context.Context, rt Runtime, value any, opts *DisplayOptions) error {
	display, ok := rt.Globals().Get("display")
	if !ok {
		return ErrNoDisplay
	}

	var err error
	if opts == nil {
		_, err = display.Call(ctx, value)
	} else {
		_, err = display.CallKwargs(ctx, []any{value}, opts.kwargs())
	}
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	return nil
}
