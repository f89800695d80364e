package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	log "github.com/sirupsen/logrus"
)

const gitPrefix = "git+"

// gitRef is git+<repo-url>//<path>[@<branch>].
type gitRef struct {
	Repo   string
	Path   string
	Branch string
}

func parseGitRef(ref string) (gitRef, error) {
	s := strings.TrimPrefix(ref, gitPrefix)
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return gitRef{}, fmt.Errorf("invalid git reference %q: missing scheme", ref)
	}
	schemeEnd += len("://")

	idx := strings.Index(s[schemeEnd:], "//")
	if idx == -1 {
		return gitRef{}, fmt.Errorf("invalid git reference %q: want repo//path", ref)
	}

	gr := gitRef{
		Repo: s[:schemeEnd+idx],
		Path: s[schemeEnd+idx+2:],
	}
	if at := strings.LastIndex(gr.Path, "@"); at != -1 {
		gr.Branch = gr.Path[at+1:]
		gr.Path = gr.Path[:at]
	}
	if gr.Path == "" {
		return gitRef{}, fmt.Errorf("invalid git reference %q: empty path", ref)
	}
	return gr, nil
}

func (g gitRef) String() string {
	s := gitPrefix + g.Repo + "//" + g.Path
	if g.Branch != "" {
		s += "@" + g.Branch
	}
	return s
}

// gitSource keeps one in-memory clone per repository and branch.
type gitSource struct {
	auth *githttp.BasicAuth

	mu     sync.Mutex
	clones map[string]billy.Filesystem
}

func newGitSource() *gitSource {
	return &gitSource{clones: make(map[string]billy.Filesystem)}
}

func (g *gitSource) get(ctx context.Context, ref gitRef, maxSize int64, logger *log.Entry) ([]byte, error) {
	fs, err := g.clone(ctx, ref, logger)
	if err != nil {
		return nil, err
	}

	file, err := fs.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref.Path, err)
	}
	defer func(file billy.File) {
		if err := file.Close(); err != nil {
			logger.WithError(err).Error("error closing file")
		}
	}(file)

	return readLimited(file, maxSize)
}

func (g *gitSource) clone(ctx context.Context, ref gitRef, logger *log.Entry) (billy.Filesystem, error) {
	key := ref.Repo + "@" + ref.Branch

	g.mu.Lock()
	defer g.mu.Unlock()

	if fs, ok := g.clones[key]; ok {
		return fs, nil
	}

	opts := &git.CloneOptions{URL: ref.Repo}
	if g.auth != nil {
		opts.Auth = g.auth
	}
	if ref.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref.Branch)
		opts.SingleBranch = true
	}

	logger.WithField("repo", ref.Repo).Debug("cloning into memory")
	fs := memfs.New()
	if _, err := git.CloneContext(ctx, memory.NewStorage(), fs, opts); err != nil {
		return nil, fmt.Errorf("clone %s: %w", ref.Repo, err)
	}
	logger.WithField("repo", ref.Repo).Debug("cloned")

	g.clones[key] = fs
	return fs, nil
}
