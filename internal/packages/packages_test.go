package packages

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func buildWheel(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newIndex serves a JSON package index with one package per wheel.
func newIndex(t *testing.T, wheels map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	for name, wheel := range wheels {
		name, wheel := name, wheel
		mux.HandleFunc("/pypi/"+name+"/json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"info":{"name":%q,"version":"1.0"},"urls":[
				{"packagetype":"sdist","filename":"%s-1.0.tar.gz","url":"%s/files/%s.tar.gz"},
				{"packagetype":"bdist_wheel","filename":"%s-1.0-py3-none-any.whl","url":"%s/files/%s.whl"}]}`,
				name, name, server.URL, name, name, server.URL, name)
		})
		mux.HandleFunc("/files/"+name+".whl", func(w http.ResponseWriter, r *http.Request) {
			w.Write(wheel)
		})
	}
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestInstall(t *testing.T) {
	index := newIndex(t, map[string][]byte{
		"tinypkg": buildWheel(t, map[string]string{
			"tinypkg/__init__.py":            "VALUE = 1\n",
			"tinypkg-1.0.dist-info/METADATA": "Name: tinypkg\n",
		}),
	})

	dir := t.TempDir()
	inst := NewInstaller(dir, WithIndex(index.URL+"/pypi/"))

	if inst.Installed("tinypkg") {
		t.Fatal("package reported installed before install")
	}
	if err := inst.Ensure(context.Background(), "tinypkg>=1.0"); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tinypkg", "__init__.py"))
	if err != nil {
		t.Fatalf("package not extracted: %v", err)
	}
	if string(data) != "VALUE = 1\n" {
		t.Errorf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "tinypkg-1.0.dist-info", "METADATA")); err != nil {
		t.Errorf("dist-info not kept: %v", err)
	}

	list, _ := inst.List()
	if len(list) != 1 || list[0] != "tinypkg" {
		t.Errorf("List() = %v", list)
	}

	if err := inst.Remove("tinypkg"); err != nil {
		t.Fatal(err)
	}
	if inst.Installed("tinypkg") {
		t.Error("package still installed after remove")
	}
}

func TestInstallRejects(t *testing.T) {
	index := newIndex(t, map[string][]byte{
		"cext":   buildWheel(t, map[string]string{"cext/_speedups.so": "elf"}),
		"escape": buildWheel(t, map[string]string{"../evil.py": "x"}),
	})
	inst := NewInstaller(t.TempDir(), WithIndex(index.URL+"/pypi"))
	ctx := context.Background()

	if err := inst.Install(ctx, "numpy"); !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
	if err := inst.Install(ctx, "cext"); !errors.Is(err, ErrCExtension) {
		t.Errorf("expected ErrCExtension, got %v", err)
	}
	if err := inst.Install(ctx, "escape"); err == nil {
		t.Error("expected error for entry outside install dir")
	}
	if err := inst.Install(ctx, "missing"); err == nil {
		t.Error("expected error for unknown package")
	}
}

func TestParseSpec(t *testing.T) {
	tests := map[string]string{
		"requests":      "requests",
		"pydantic==2.0": "pydantic",
		" attrs >= 23 ": "attrs",
		"rich[jupyter]": "rich",
		"six!=1.0,<2":   "six",
	}
	for spec, want := range tests {
		if got := ParseSpec(spec); got != want {
			t.Errorf("ParseSpec(%q) = %q, want %q", spec, got, want)
		}
	}
}

func TestFindWheel(t *testing.T) {
	urls := []indexURL{
		{PackageType: "sdist", Filename: "a-1.tar.gz", URL: "sdist"},
		{PackageType: "bdist_wheel", Filename: "a-1-cp312-cp312-linux_x86_64.whl", URL: "native"},
		{PackageType: "bdist_wheel", Filename: "a-1-py2.py3-none-any.whl", URL: "pure"},
	}
	if got := findWheel(urls); got != "pure" {
		t.Errorf("findWheel() = %q", got)
	}
	if got := findWheel(urls[:2]); got != "" {
		t.Errorf("expected no wheel, got %q", got)
	}
}

func TestEnsureByDistributionName(t *testing.T) {
	index := newIndex(t, map[string][]byte{
		"beautifulsoup4": buildWheel(t, map[string]string{
			"bs4/__init__.py":                          "class BeautifulSoup: pass\n",
			"beautifulsoup4-4.12.3.dist-info/METADATA": "Name: beautifulsoup4\n",
			"beautifulsoup4-4.12.3.dist-info/RECORD": "bs4/__init__.py,,\n" +
				"beautifulsoup4-4.12.3.dist-info/METADATA,,\n" +
				"../outside.py,,\n",
		}),
	})
	var requests atomic.Int32
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		index.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(counting.Close)

	dir := t.TempDir()
	keep := filepath.Join(filepath.Dir(dir), "outside.py")
	inst := NewInstaller(dir, WithIndex(counting.URL+"/pypi"))
	ctx := context.Background()

	if err := inst.Ensure(ctx, "beautifulsoup4"); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	fetched := requests.Load()
	if fetched == 0 {
		t.Fatal("expected the index to be queried")
	}
	if !inst.Installed("BeautifulSoup4>=4") {
		t.Error("distribution not reported installed")
	}
	if err := inst.Ensure(ctx, "beautifulsoup4"); err != nil {
		t.Fatal(err)
	}
	if got := requests.Load(); got != fetched {
		t.Errorf("second Ensure fetched again: %d requests, want %d", got, fetched)
	}

	list, _ := inst.List()
	if len(list) != 1 || list[0] != "bs4" {
		t.Errorf("List() = %v", list)
	}

	os.WriteFile(keep, []byte("x"), 0o644)
	if err := inst.Remove("beautifulsoup4"); err != nil {
		t.Fatal(err)
	}
	if inst.Installed("beautifulsoup4") {
		t.Error("distribution still installed after remove")
	}
	if _, err := os.Stat(filepath.Join(dir, "bs4")); !os.IsNotExist(err) {
		t.Error("bs4 left behind by remove")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("remove reached outside the install dir: %v", err)
	}
}

func TestInstallTooLarge(t *testing.T) {
	index := newIndex(t, map[string][]byte{
		"big": buildWheel(t, map[string]string{
			"big/__init__.py": strings.Repeat("x", 4096),
		}),
		"small": buildWheel(t, map[string]string{
			"small/__init__.py": "ok\n",
		}),
	})
	dir := t.TempDir()
	inst := NewInstaller(dir, WithIndex(index.URL+"/pypi"), WithMaxUnpacked(1024))
	ctx := context.Background()

	if err := inst.Install(ctx, "big"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "big", "__init__.py")); !os.IsNotExist(err) {
		t.Error("oversized entry was written")
	}
	if err := inst.Install(ctx, "small"); err != nil {
		t.Errorf("small wheel rejected: %v", err)
	}
}

func TestWriteEntryIgnoresDeclaredSize(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("pkg/data.txt")
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte(strings.Repeat("y", 2048)))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "data.txt")
	if _, err := writeEntry(r.File[0], dest, 100); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial entry written")
	}
}
