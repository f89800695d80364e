package page

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/caffeineduck/pyhost/source"
	log "github.com/sirupsen/logrus"
)

// stagePaths fetches every ref into a fresh directory, each file named by
// the last element of its reference.
func stagePaths(ctx context.Context, fetcher *source.Fetcher, refs []string) (string, error) {
	dir, err := os.MkdirTemp("", "pyhost-paths-")
	if err != nil {
		return "", fmt.Errorf("create paths dir: %w", err)
	}

	for _, ref := range refs {
		name := stagedName(ref)
		if name == "" || name == "." || name == "/" {
			os.RemoveAll(dir)
			return "", fmt.Errorf("path %q names no file", ref)
		}

		data, err := fetcher.FetchBytes(ctx, ref)
		if err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("fetch path %s: %w", ref, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("stage path %s: %w", ref, err)
		}
	}
	return dir, nil
}

func stagedName(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	return path.Base(filepath.ToSlash(ref))
}

func removeStaged(dir string, logger *log.Entry) {
	if err := os.RemoveAll(dir); err != nil {
		logger.WithError(err).WithField("dir", dir).Warn("failed to remove staged paths")
	}
}
