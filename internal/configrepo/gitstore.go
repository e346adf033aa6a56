package configrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// GitSync keeps a FileBackend's local root in sync with a Git repo's
// "agents/<agent-id>.yaml" layout. Each Sync call clones or fetches
// and hard-resets, so a fleet operator's pushed changes land on the
// next Sync; there is no background pull loop. Adapted from
// the prior config-store's git client, narrowed to only the local-root sync
// concern — remote-config persistence is FileBackend's job, not
// GitSync's, since spec.md §4.7 only allows the remote root to be
// written by this process.
type GitSync struct {
	repoURL string
	branch  string
	dir     string
	auth    transport.AuthMethod

	mu   sync.Mutex
	repo *git.Repository
}

// NewGitSync creates a GitSync that will clone repoURL@branch into
// dir on first Sync.
func NewGitSync(repoURL, branch, dir string, auth transport.AuthMethod) *GitSync {
	return &GitSync{repoURL: repoURL, branch: branch, dir: dir, auth: auth}
}

// LocalRoot returns the "agents" subdirectory of the synced checkout,
// suitable for NewFileBackend's localRoot argument.
func (g *GitSync) LocalRoot() string {
	return filepath.Join(g.dir, "agents")
}

// Sync clones the repo on first call, or fetches and hard-resets the
// working tree to the remote branch tip on subsequent calls.
func (g *GitSync) Sync(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.repo == nil {
		return g.clone(ctx)
	}
	return g.pull(ctx)
}

func (g *GitSync) clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.dir), 0o755); err != nil {
		return fmt.Errorf("creating parent dir: %w", err)
	}
	_ = os.RemoveAll(g.dir)

	repo, err := git.PlainCloneContext(ctx, g.dir, false, &git.CloneOptions{
		URL:           g.repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          g.auth,
	})
	if err != nil {
		return fmt.Errorf("cloning config repo: %w", err)
	}
	g.repo = repo
	return nil
}

func (g *GitSync) pull(ctx context.Context) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", g.branch, g.branch))

	err := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Depth:      1,
		Auth:       g.auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetching config repo: %w", err)
	}

	remoteRef, err := g.repo.Reference(plumbing.NewRemoteReferenceName("origin", g.branch), true)
	if err != nil {
		return fmt.Errorf("resolving remote ref: %w", err)
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting to remote HEAD: %w", err)
	}
	return nil
}

// Revision returns the current HEAD commit hash of the synced branch.
func (g *GitSync) Revision() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repo == nil {
		return "", nil
	}
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Close removes the local checkout.
func (g *GitSync) Close() error {
	return os.RemoveAll(g.dir)
}
