package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// TimeFormat is the layout of Metadata.Time: ISO-8601, UTC, milliseconds.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var ErrNoFetcher = errors.New("config has src but no fetcher is configured")

// Element is the part of a <py-config> element the loader reads.
type Element interface {
	GetAttribute(name string) (string, bool)
	TextContent() string
}

// Fetcher returns the text stored at ref.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// Loader resolves the effective AppConfig of a page.
type Loader struct {
	fetcher  Fetcher
	reporter Reporter
	logger   *log.Entry
	version  string
	now      func() time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFetcher sets how src references are read.
func WithFetcher(f Fetcher) LoaderOption {
	return func(l *Loader) {
		l.fetcher = f
	}
}

// WithReporter sets where user-visible parse errors are shown.
func WithReporter(r Reporter) LoaderOption {
	return func(l *Loader) {
		l.reporter = r
	}
}

func WithLogger(entry *log.Entry) LoaderOption {
	return func(l *Loader) {
		l.logger = entry
	}
}

// WithVersion overrides the version stamped into the metadata.
func WithVersion(v string) LoaderOption {
	return func(l *Loader) {
		l.version = v
	}
}

// WithClock overrides the time source used for the metadata timestamp.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		l.now = now
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:  log.WithField("component", "config"),
		version: Version,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves the configuration carried by el. A nil el yields the default
// configuration. The result is always stamped with fresh metadata.
func (l *Loader) Load(ctx context.Context, el Element) (*AppConfig, error) {
	fromSource := &AppConfig{}
	inline := &AppConfig{}

	if el != nil {
		format, _ := el.GetAttribute("type")
		format = strings.ToLower(strings.TrimSpace(format))

		if src, ok := el.GetAttribute("src"); ok && src != "" {
			cfg, err := l.loadSource(ctx, src, format)
			if err != nil {
				return nil, err
			}
			fromSource = cfg
		}

		if text := el.TextContent(); strings.TrimSpace(text) != "" {
			l.logger.Info("loading inline config")
			cfg, err := l.parse(text, format)
			if err != nil {
				return nil, fmt.Errorf("inline config: %w", err)
			}
			inline = cfg
		}
	}

	cfg := Merge(inline, Merge(fromSource, Default()))
	cfg.PyScript = &Metadata{
		Version: l.version,
		Time:    l.now().UTC().Format(TimeFormat),
	}
	return cfg, nil
}

func (l *Loader) loadSource(ctx context.Context, src, format string) (*AppConfig, error) {
	logger := l.logger.WithField("src", src)
	logger.Info("loading config from src")

	if l.fetcher == nil {
		logger.WithError(ErrNoFetcher).Error("cannot read config src")
		return nil, ErrNoFetcher
	}

	text, err := l.fetcher.Fetch(ctx, src)
	if err != nil {
		logger.WithError(err).Error("failed to fetch config")
		return nil, fmt.Errorf("fetch config %s: %w", src, err)
	}

	cfg, err := l.parse(text, format)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", src, err)
	}
	return cfg, nil
}

func (l *Loader) parse(text, format string) (*AppConfig, error) {
	raw, err := Parse(text, format, l.reporter)
	if err != nil {
		l.logger.WithError(err).Error("failed to parse config")
		return nil, err
	}

	cfg, dropped := validate(raw)
	for _, d := range dropped {
		if d.elements > 0 {
			l.logger.WithFields(log.Fields{
				"key":     d.key,
				"dropped": d.elements,
			}).Warn("ignoring config array elements with wrong type")
			continue
		}
		l.logger.WithFields(log.Fields{
			"key":  d.key,
			"want": d.want.String(),
		}).Warn("ignoring config key with wrong type")
	}
	return cfg, nil
}
