package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/caffeineduck/pyhost/dom"
)

// ErrImplicitTarget is returned for a display call that names no target.
var ErrImplicitTarget = errors.New("Implicit target not allowed here. Please use display(..., target=...)")

func decodeDisplay(args map[string]any) (DisplayRequest, error) {
	var req DisplayRequest
	req.Target, _ = args["target"].(string)
	if req.Target == "" {
		return req, ErrImplicitTarget
	}
	req.HTML, _ = args["html"].(string)
	req.Text, _ = args["text"].(string)
	req.Append, _ = args["append"].(bool)
	return req, nil
}

// NewDisplay returns a display function writing into elements of doc. With
// append set the value goes into a new <div> after the element's children;
// otherwise it replaces them.
func NewDisplay(doc *dom.Document) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		req, err := decodeDisplay(args)
		if err != nil {
			return nil, err
		}

		el, ok := doc.GetElementByID(req.Target)
		if !ok {
			return nil, fmt.Errorf("display target not found: %s", req.Target)
		}

		if req.Append {
			el.AppendHTML("<div>" + req.HTML + "</div>")
		} else {
			el.SetInnerHTML(req.HTML)
		}
		return nil, nil
	}
}

// NewTextDisplay returns a display function that prints the plain form of
// each value to w, one per line, whatever the target.
func NewTextDisplay(w io.Writer) Func {
	var mu sync.Mutex
	return func(ctx context.Context, args map[string]any) (any, error) {
		req, err := decodeDisplay(args)
		if err != nil {
			return nil, err
		}

		text := req.Text
		if text == "" {
			text = req.HTML
		}
		if len(text) == 0 || text[len(text)-1] != '\n' {
			text += "\n"
		}

		mu.Lock()
		defer mu.Unlock()
		_, err = io.WriteString(w, text)
		return nil, err
	}
}
