package git

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetguard/warden/pkg/config"
	"fleetguard/warden/pkg/policy/source"
)

// Source keeps the registry in step with a policy repository. Each poll
// pulls the tracked branch and, when YAML under the policy path changed,
// re-syncs the policy directory. Documents that fail validation never
// become registry versions, so the last good version of each policy stays
// in force until a fixed commit lands.
type Source struct {
	repo     *Repository
	syncer   *source.Syncer
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewSource creates a source for cfg that applies documents through syncer.
func NewSource(cfg *config.GitPolicyConfig, syncer *source.Syncer) (*Source, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	return &Source{
		repo:     repo,
		syncer:   syncer,
		interval: cfg.Poll.Interval,
		logger:   slog.Default().With("component", "policy.git", "repository", cfg.Repository, "branch", cfg.Branch),
	}, nil
}

// Repository returns the underlying clone.
func (s *Source) Repository() *Repository {
	return s.repo
}

// Init clones (or opens) the repository and syncs the policy directory.
func (s *Source) Init(ctx context.Context) (*source.SyncResult, error) {
	if err := s.repo.Clone(ctx); err != nil {
		return nil, err
	}
	head, err := s.repo.Head()
	if err != nil {
		return nil, err
	}
	s.logger.Info("policy repository ready", "commit", head.Short(), "path", s.repo.LocalPath())
	return s.sync(ctx, head.SHA)
}

// Poll pulls once and syncs when policy files changed. It returns a nil
// result when there was nothing to sync.
func (s *Source) Poll(ctx context.Context) (*source.SyncResult, error) {
	s.mu.Lock()
	s.stats.Polls++
	s.mu.Unlock()

	pull, err := s.repo.Pull(ctx)
	if err != nil {
		s.mu.Lock()
		s.stats.FailedPolls++
		s.mu.Unlock()
		return nil, err
	}
	if !pull.Changed() {
		return nil, nil
	}

	if !s.repo.TouchesPolicies(pull.ChangedFiles) {
		s.logger.Debug("commit does not touch policies",
			"from", shortSHA(pull.FromSHA), "to", shortSHA(pull.ToSHA), "files", len(pull.ChangedFiles))
		return nil, nil
	}

	s.logger.Info("policy changes pulled",
		"from", shortSHA(pull.FromSHA), "to", shortSHA(pull.ToSHA), "files", len(pull.ChangedFiles))
	return s.sync(ctx, pull.ToSHA)
}

// Run polls every configured interval until ctx is done. A zero interval
// returns immediately.
func (s *Source) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil {
				s.logger.Error("policy poll failed", "error", err)
			}
		}
	}
}

// Stats returns a copy of the source counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Source) sync(ctx context.Context, sha string) (*source.SyncResult, error) {
	result, err := s.syncer.SyncPath(ctx, s.repo.PolicyDir())

	s.mu.Lock()
	s.stats.Syncs++
	if err != nil {
		s.stats.FailedSyncs++
	} else {
		s.stats.LastSyncedAt = time.Now()
		s.stats.SyncedSHA = sha
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("policy sync failed, invalid documents were not applied",
			"commit", shortSHA(sha), "error", err)
		return result, fmt.Errorf("sync of commit %s: %w", shortSHA(sha), err)
	}

	s.logger.Debug("policies synced",
		"commit", shortSHA(sha),
		"created", len(result.Created),
		"updated", len(result.Updated),
		"activated", len(result.Activated),
		"unchanged", result.Unchanged)
	return result, nil
}
