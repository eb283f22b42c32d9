package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"fleetguard/warden/pkg/config"
)

// ErrNotCloned is returned by operations that need a local clone.
var ErrNotCloned = errors.New("repository not cloned")

// Repository is a local clone of the policy repository.
type Repository struct {
	config    *config.GitPolicyConfig
	localPath string
	auth      transport.AuthMethod

	mu   sync.RWMutex
	repo *gogit.Repository
}

// NewRepository validates cfg and prepares a repository. Nothing touches
// the network until Clone.
func NewRepository(cfg *config.GitPolicyConfig) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("git config cannot be nil")
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}

	auth, err := NewAuth(&cfg.Auth)
	if err != nil {
		return nil, err
	}

	localPath := cfg.Clone.LocalPath
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "warden-policies")
	}

	return &Repository{config: cfg, localPath: localPath, auth: auth}, nil
}

// Clone opens an existing clone at the local path or clones the branch.
// CleanOnStart removes the local path first.
func (r *Repository) Clone(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Clone.CleanOnStart {
		if err := os.RemoveAll(r.localPath); err != nil {
			return fmt.Errorf("failed to clean local clone: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(r.localPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.localPath)
		if err != nil {
			return fmt.Errorf("failed to open local clone: %w", err)
		}
		r.repo = repo
		return nil
	}

	if err := os.MkdirAll(r.localPath, 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	repo, err := gogit.PlainCloneContext(ctx, r.localPath, false, &gogit.CloneOptions{
		URL:           r.config.Repository,
		Auth:          r.auth,
		ReferenceName: plumbing.NewBranchReferenceName(r.config.Branch),
		SingleBranch:  true,
		Depth:         r.config.Clone.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", r.config.Repository, err)
	}

	r.repo = repo
	return nil
}

// Pull fast-forwards the tracked branch and lists the files that changed.
func (r *Repository) Pull(ctx context.Context) (*PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}

	from, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err = worktree.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.config.Branch),
		Auth:          r.auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	to, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	result := &PullResult{FromSHA: from.Hash().String(), ToSHA: to.Hash().String()}
	if result.Changed() {
		result.ChangedFiles, err = r.diff(from.Hash(), to.Hash())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Head describes the checked out commit.
func (r *Repository) Head() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}

	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}

	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Timestamp: commit.Author.When,
		Message:   strings.TrimSpace(commit.Message),
		Branch:    r.config.Branch,
	}, nil
}

// PolicyDir is the directory synced into the registry.
func (r *Repository) PolicyDir() string {
	return filepath.Join(r.localPath, r.config.Path)
}

// LocalPath is the clone directory.
func (r *Repository) LocalPath() string {
	return r.localPath
}

// TouchesPolicies reports whether any repository-relative path is a YAML
// file under the configured policy path.
func (r *Repository) TouchesPolicies(files []string) bool {
	prefix := filepath.ToSlash(filepath.Clean(r.config.Path))
	for _, f := range files {
		f = filepath.ToSlash(f)
		if prefix != "." && f != prefix && !strings.HasPrefix(f, prefix+"/") {
			continue
		}
		switch strings.ToLower(filepath.Ext(f)) {
		case ".yaml", ".yml":
			return true
		}
	}
	return false
}

func (r *Repository) diff(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(from.String()), err)
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(to.String()), err)
	}

	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, ch := range changes {
		// Deletions only carry the old name.
		if ch.To.Name != "" {
			files = append(files, ch.To.Name)
		} else {
			files = append(files, ch.From.Name)
		}
	}
	return files, nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.Poll.Timeout > 0 {
		return context.WithTimeout(ctx, r.config.Poll.Timeout)
	}
	return context.WithCancel(ctx)
}
