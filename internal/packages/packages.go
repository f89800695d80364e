// Package packages installs pure-Python wheels from a package index into a
// directory that interpreter sessions put on their import path.
package packages

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caffeineduck/pyhost/source"
	log "github.com/sirupsen/logrus"
)

const DefaultIndex = "https://pypi.org/pypi"

// DefaultMaxUnpacked caps the bytes a single wheel may unpack to.
const DefaultMaxUnpacked = 256 << 20

var (
	ErrBlocked    = errors.New("package is not supported in WASM")
	ErrNoWheel    = errors.New("no compatible wheel found (pure Python wheel required)")
	ErrCExtension = errors.New("package contains C extensions")
	ErrTooLarge   = errors.New("wheel exceeds unpacked size limit")
)

// Packages that cannot work under WASI.
var blocked = map[string]string{
	"numpy":         "requires C extensions",
	"pandas":        "requires C extensions (numpy)",
	"scipy":         "requires C extensions",
	"tensorflow":    "requires C extensions",
	"torch":         "requires C extensions",
	"scikit-learn":  "requires C extensions",
	"matplotlib":    "requires C extensions",
	"pillow":        "requires C extensions",
	"opencv-python": "requires C extensions",
	"psycopg2":      "requires C extensions",
	"cryptography":  "requires C extensions",
	"lxml":          "requires C extensions",
	"grpcio":        "requires C extensions",
	"requests":      "uses sockets (use pyfetch instead)",
	"httpx":         "uses sockets (use pyfetch instead)",
	"urllib3":       "uses sockets (use pyfetch instead)",
	"aiohttp":       "uses async sockets (use pyfetch instead)",
	"flask":         "requires sockets",
	"django":        "requires sockets",
	"fastapi":       "requires sockets",
}

type indexURL struct {
	PackageType string `json:"packagetype"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

type indexResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	Urls []indexURL `json:"urls"`
}

// Installer installs packages into Dir. Installs are serialized.
type Installer struct {
	dir     string
	index   string
	fetcher *source.Fetcher
	logger  *log.Entry
	// maxUnpacked bounds the total uncompressed size of one wheel.
	maxUnpacked int64
	mu          sync.Mutex
}

type Option func(*Installer)

// WithIndex sets the JSON API base, e.g. https://pypi.org/pypi.
func WithIndex(url string) Option {
	return func(i *Installer) {
		i.index = strings.TrimRight(url, "/")
	}
}

func WithFetcher(f *source.Fetcher) Option {
	return func(i *Installer) {
		i.fetcher = f
	}
}

// WithMaxUnpacked sets how many bytes one wheel may unpack to.
func WithMaxUnpacked(n int64) Option {
	return func(i *Installer) {
		i.maxUnpacked = n
	}
}

func WithLogger(entry *log.Entry) Option {
	return func(i *Installer) {
		i.logger = entry
	}
}

func NewInstaller(dir string, opts ...Option) *Installer {
	i := &Installer{
		dir:     dir,
		index:   DefaultIndex,
		fetcher: source.NewFetcher(),
		logger:  log.WithField("component", "packages"),

		maxUnpacked: DefaultMaxUnpacked,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Installer) Dir() string {
	return i.dir
}

// ParseSpec returns the package name of a requirement such as
// "requests>=2.32". Version constraints are not honoured; the latest pure
// wheel is installed.
func ParseSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	for _, op := range []string{">=", "<=", "==", "~=", "!=", ">", "<", "["} {
		if idx := strings.Index(spec, op); idx != -1 {
			spec = spec[:idx]
		}
	}
	return strings.TrimSpace(spec)
}

// importName is the directory a distribution usually unpacks to.
func importName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}

// distName normalizes a distribution name the way wheel file and dist-info
// directory names spell it, so "Foo.Bar-baz" and "foo_bar_baz" compare equal.
func distName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(name))
}

// distInfo returns the dist-info directory recorded for the distribution,
// or "" when there is none.
func (i *Installer) distInfo(name string) string {
	matches, _ := filepath.Glob(filepath.Join(i.dir, "*.dist-info"))
	want := distName(name)
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".dist-info")
		if idx := strings.Index(base, "-"); idx != -1 {
			base = base[:idx]
		}
		if distName(base) == want {
			return m
		}
	}
	return ""
}

// Installed reports whether the package appears in the install directory,
// either by its dist-info record or by a module of the same name.
func (i *Installer) Installed(spec string) bool {
	name := ParseSpec(spec)
	if i.distInfo(name) != "" {
		return true
	}
	mod := importName(name)
	for _, candidate := range []string{mod, mod + ".py"} {
		if _, err := os.Stat(filepath.Join(i.dir, candidate)); err == nil {
			return true
		}
	}
	return false
}

// Ensure installs spec unless it is already present.
func (i *Installer) Ensure(ctx context.Context, spec string) error {
	if i.Installed(spec) {
		return nil
	}
	return i.Install(ctx, spec)
}

// Install downloads the latest pure-Python wheel of spec and unpacks it.
func (i *Installer) Install(ctx context.Context, spec string) error {
	name := ParseSpec(spec)
	if reason, ok := blocked[strings.ToLower(name)]; ok {
		return fmt.Errorf("%w: %s %s", ErrBlocked, name, reason)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	logger := i.logger.WithField("package", name)
	logger.Info("installing package")

	meta, err := i.fetcher.FetchBytes(ctx, i.index+"/"+name+"/json")
	if err != nil {
		return fmt.Errorf("fetch package info: %w", err)
	}

	var info indexResponse
	if err := json.Unmarshal(meta, &info); err != nil {
		return fmt.Errorf("parse package info: %w", err)
	}

	wheelURL := findWheel(info.Urls)
	if wheelURL == "" {
		return fmt.Errorf("%s: %w", name, ErrNoWheel)
	}

	logger.WithField("version", info.Info.Version).Debug("downloading wheel")
	wheel, err := i.fetcher.FetchBytes(ctx, wheelURL)
	if err != nil {
		return fmt.Errorf("download wheel: %w", err)
	}

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}
	if err := extractWheel(wheel, i.dir, i.maxUnpacked); err != nil {
		return fmt.Errorf("extract wheel: %w", err)
	}
	return nil
}

// List returns the installed top-level packages.
func (i *Installer) List() ([]string, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasSuffix(entry.Name(), ".dist-info") && !strings.HasPrefix(entry.Name(), "__") {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

// Remove deletes an installed package: the top-level entries its RECORD
// lists, its dist-info, and any module named after it.
func (i *Installer) Remove(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	targets := []string{importName(name), importName(name) + ".py"}
	if info := i.distInfo(name); info != "" {
		targets = append(targets, recordTopLevel(info)...)
		targets = append(targets, filepath.Base(info))
	}
	for _, t := range targets {
		if err := os.RemoveAll(filepath.Join(i.dir, t)); err != nil {
			return err
		}
	}
	return nil
}

// recordTopLevel returns the top-level names listed in a dist-info RECORD,
// skipping anything that would leave the install directory.
func recordTopLevel(infoDir string) []string {
	data, err := os.ReadFile(filepath.Join(infoDir, "RECORD"))
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		path, _, _ := strings.Cut(strings.TrimSpace(line), ",")
		top, _, _ := strings.Cut(filepath.ToSlash(path), "/")
		if top == "" || top == "." || top == ".." || seen[top] {
			continue
		}
		seen[top] = true
		out = append(out, top)
	}
	return out
}

func findWheel(urls []indexURL) string {
	for _, u := range urls {
		if u.PackageType != "bdist_wheel" {
			continue
		}
		filename := strings.ToLower(u.Filename)
		if strings.Contains(filename, "-py3-none-any") || strings.Contains(filename, "-py2.py3-none-any") {
			return u.URL
		}
	}
	return ""
}

// extractWheel unpacks data into destDir, dist-info included, writing at most
// limit bytes in total.
func extractWheel(data []byte, destDir string, limit int64) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	var declared uint64
	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".pyd") || strings.HasSuffix(name, ".dylib") {
			return fmt.Errorf("%w (%s)", ErrCExtension, filepath.Base(f.Name))
		}
		declared += f.UncompressedSize64
		if declared > uint64(limit) {
			return fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
		}
	}

	remaining := limit
	for _, f := range r.File {
		destPath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("wheel entry escapes install dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		n, err := writeEntry(f, destPath, remaining)
		if err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// writeEntry copies one entry, failing once it passes limit bytes. The
// header's declared size is not trusted.
func writeEntry(f *zip.File, destPath string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(rc, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	return n, os.WriteFile(destPath, buf.Bytes(), 0o644)
}
