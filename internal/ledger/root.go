package ledger

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ResolveRoot maps path to the project root a ledger is keyed by: the top of
// the enclosing git worktree when there is one, otherwise the absolute,
// cleaned path itself.
func ResolveRoot(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyRoot
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		// Not a repository, or one we cannot read.
		return abs, nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository.
		return abs, nil
	}
	return filepath.Clean(wt.Filesystem.Root()), nil
}

// ProjectName returns a display name for root. The origin remote's
// repository name wins over the directory name.
func ProjectName(root string) string {
	fallback := filepath.Base(root)

	repo, err := git.PlainOpen(root)
	if err != nil {
		return fallback
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return fallback
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return fallback
	}
	if name := repoNameFromURL(urls[0]); name != "" {
		return name
	}
	return fallback
}

// repoNameFromURL extracts "repo" from git@host:owner/repo.git or
// https://host/owner/repo.git.
func repoNameFromURL(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return url
}
