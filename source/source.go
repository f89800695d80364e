// Package source fetches raw text and binaries by reference.
//
// A reference is a local path, a file:// URL, an http(s) URL, an s3:// or gs://
// object, or a file inside a git repository:
//
//	config.toml
//	file:///srv/site/config.toml
//	https://example.com/config.toml
//	s3://bucket/path/config.toml
//	gs://bucket/path/config.toml
//	git+https://github.com/org/repo.git//path/config.toml@main
//
// Relative references are resolved against the base the Fetcher was created
// with, usually the location of the page that contains them.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxSize = 64 << 20 // 64MB, enough for an interpreter module
	DefaultTimeout = 60 * time.Second
)

var (
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	ErrTooLarge          = errors.New("source exceeds max size")
)

// Fetcher reads references from any supported backend. It is safe for
// concurrent use.
type Fetcher struct {
	base    string
	apiKey  string
	maxSize int64
	client  *http.Client
	logger  *log.Entry

	s3  *s3Source
	gcs *gcsSource
	git *gitSource
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBase sets the location relative references are resolved against.
func WithBase(base string) Option {
	return func(f *Fetcher) {
		f.base = base
	}
}

// WithAPIKey sends key as the X-API-Key header on http(s) requests.
func WithAPIKey(key string) Option {
	return func(f *Fetcher) {
		f.apiKey = key
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithMaxSize bounds the number of bytes read from any backend.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

// WithS3Client uses c instead of a client built from the default AWS config.
func WithS3Client(c *s3.Client) Option {
	return func(f *Fetcher) {
		f.s3.client = c
	}
}

// WithGCSClient uses c instead of a client built from default credentials.
func WithGCSClient(c *storage.Client) Option {
	return func(f *Fetcher) {
		f.gcs.client = c
	}
}

// WithGitAuth sets credentials used when cloning git repositories.
func WithGitAuth(username, password string) Option {
	return func(f *Fetcher) {
		f.git.auth = &githttp.BasicAuth{Username: username, Password: password}
	}
}

func WithLogger(entry *log.Entry) Option {
	return func(f *Fetcher) {
		f.logger = entry
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		maxSize: DefaultMaxSize,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  log.WithField("component", "source"),
		s3:      &s3Source{},
		gcs:     &gcsSource{},
		git:     newGitSource(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Rebase returns a copy of f that resolves against base. Backend clients and
// git clones are shared with f.
func (f *Fetcher) Rebase(base string) *Fetcher {
	cp := *f
	cp.base = base
	return &cp
}

// Base returns the location relative references are resolved against.
func (f *Fetcher) Base() string {
	return f.base
}

// Fetch returns the text stored at ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	data, err := f.FetchBytes(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchBytes returns the raw bytes stored at ref.
func (f *Fetcher) FetchBytes(ctx context.Context, ref string) ([]byte, error) {
	resolved := f.Resolve(ref)
	logger := f.logger.WithField("ref", resolved)
	logger.Debug("fetching")

	data, err := f.fetch(ctx, resolved)
	if err != nil {
		logger.WithError(err).Debug("fetch failed")
		return nil, fmt.Errorf("fetch %s: %w", resolved, err)
	}
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, gitPrefix) {
		gr, err := parseGitRef(ref)
		if err != nil {
			return nil, err
		}
		return f.git.get(ctx, gr, f.maxSize, f.logger)
	}

	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return readFile(ref, f.maxSize)
	}

	switch strings.ToLower(scheme) {
	case "file":
		u, err := url.Parse(ref)
		if err != nil {
			return nil, err
		}
		return readFile(filepath.FromSlash(u.Path), f.maxSize)
	case "http", "https":
		return f.httpGet(ctx, ref)
	case "s3":
		bucket, key, err := splitObject(rest)
		if err != nil {
			return nil, err
		}
		return f.s3.get(ctx, bucket, key, f.maxSize)
	case "gs":
		bucket, key, err := splitObject(rest)
		if err != nil {
			return nil, err
		}
		return f.gcs.get(ctx, bucket, key, f.maxSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// Resolve makes ref absolute against the fetcher's base.
func (f *Fetcher) Resolve(ref string) string {
	if f.base == "" || isAbsolute(ref) {
		return ref
	}

	if strings.HasPrefix(f.base, gitPrefix) {
		gr, err := parseGitRef(f.base)
		if err != nil {
			return ref
		}
		gr.Path = path.Join(path.Dir(gr.Path), ref)
		return gr.String()
	}

	if strings.Contains(f.base, "://") {
		base, err := url.Parse(f.base)
		if err != nil {
			return ref
		}
		rel, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return base.ResolveReference(rel).String()
	}

	return filepath.Join(filepath.Dir(f.base), filepath.FromSlash(ref))
}

func isAbsolute(ref string) bool {
	return strings.Contains(ref, "://") || strings.HasPrefix(ref, gitPrefix) || filepath.IsAbs(ref)
}

// splitObject splits "bucket/key/with/slashes".
func splitObject(s string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object reference %q: want bucket/key", s)
	}
	return bucket, key, nil
}
