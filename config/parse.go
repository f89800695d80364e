package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Supported config formats.
const (
	FormatTOML = "toml"
	FormatJSON = "json"
)

// Formats lists the values accepted by the type attribute.
var Formats = []string{FormatTOML, FormatJSON}

var (
	ErrSyntax            = errors.New("config syntax error")
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Reporter receives user-visible HTML messages for the page error area.
type Reporter interface {
	ShowError(html string)
}

// SyntaxError reports config text that could not be parsed as TOML.
// Line and Column are 1-based and zero when the parser gave no position.
type SyntaxError struct {
	Format string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d, column %d)", ErrSyntax, e.Msg, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s", ErrSyntax, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Parse decodes text in the given format into a raw map. An empty format
// means TOML. Failures are also sent to r when r is non-nil.
func Parse(text, format string, r Reporter) (map[string]any, error) {
	if format == "" {
		format = FormatTOML
	}

	switch format {
	case FormatTOML:
		return parseTOML(text, r)
	case FormatJSON:
		return parseJSON(text, r)
	default:
		report(r, fmt.Sprintf(
			"The config type %q is not supported, supported types are: %s",
			format, strings.Join(Formats, ", "),
		))
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func parseTOML(text string, r Reporter) (map[string]any, error) {
	// The TOML decoder accepts some JSON-looking input, so catch the common
	// mistake of a missing type="json" before it parses into nonsense.
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		report(r, invalidConfigMessage(text, "TOML"))
		return nil, &SyntaxError{
			Format: FormatTOML,
			Msg:    "TOML config starts with '{'; did you mean type=\"json\"?",
		}
	}

	raw := make(map[string]any)
	if err := toml.Unmarshal([]byte(text), &raw); err != nil {
		report(r, invalidConfigMessage(text, "TOML"))
		serr := &SyntaxError{Format: FormatTOML, Msg: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			serr.Line, serr.Column = derr.Position()
		}
		return nil, serr
	}
	return raw, nil
}

func parseJSON(text string, r Reporter) (map[string]any, error) {
	raw := make(map[string]any)
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		report(r, invalidConfigMessage(text, "JSON"))
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return raw, nil
}

func invalidConfigMessage(text, kind string) string {
	return fmt.Sprintf(
		"The config supplied: <code>%s</code> is an invalid %s and cannot be parsed",
		html.EscapeString(strings.TrimSpace(text)), kind,
	)
}

func report(r Reporter, msg string) {
	if r != nil {
		r.ShowError(msg)
	}
}
