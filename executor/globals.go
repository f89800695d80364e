package executor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Globals looks up names in an interpreter's global namespace.
type Globals interface {
	Get(name string) (Callable, bool)
}

// Callable is an interpreter-side function. Arguments and results cross the
// boundary as JSON values.
type Callable interface {
	Call(ctx context.Context, args ...any) (any, error)
	CallKwargs(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// Globals returns the session's global namespace.
func (s *Session) Globals() Globals {
	return sessionGlobals{s: s}
}

type sessionGlobals struct {
	s *Session
}

// Get reports whether name is bound to a callable. A session that cannot
// answer reports false.
func (g sessionGlobals) Get(name string) (Callable, bool) {
	_, raw, err := g.s.roundTrip(context.Background(), command{Type: commandHas, Fn: name})
	if err != nil {
		g.s.logger.WithError(err).WithField("name", name).Debug("globals lookup failed")
		return nil, false
	}

	var found bool
	if err := json.Unmarshal(raw, &found); err != nil || !found {
		return nil, false
	}
	return sessionCallable{s: g.s, name: name}, true
}

type sessionCallable struct {
	s    *Session
	name string
}

func (c sessionCallable) Call(ctx context.Context, args ...any) (any, error) {
	return c.CallKwargs(ctx, args, nil)
}

func (c sessionCallable) CallKwargs(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	_, raw, err := c.s.roundTrip(ctx, command{
		Type:   commandCall,
		Fn:     c.name,
		Args:   args,
		Kwargs: kwargs,
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", c.name, err)
	}
	return v, nil
}
