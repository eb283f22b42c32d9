package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/registry"
)

// SyncConfig configures a Syncer.
type SyncConfig struct {
	// Dir is the policy directory or file.
	Dir string

	// TenantID is used for documents that do not name a tenant.
	TenantID string

	// Thresholds derive the mode of documents that do not set one. They
	// must match the registry's thresholds.
	Thresholds policy.ModeThresholds

	Loader *LoaderConfig
}

// DefaultSyncConfig returns the default sync configuration.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		TenantID:   "default",
		Thresholds: policy.DefaultModeThresholds(),
		Loader:     DefaultLoaderConfig(),
	}
}

// SyncResult summarizes one Sync.
type SyncResult struct {
	Documents int
	Created   []string
	Updated   []string
	Activated []string
	Unchanged int
}

// Syncer applies policy files to the registry.
type Syncer struct {
	registry *registry.Registry
	loader   *Loader
	config   *SyncConfig
	logger   *slog.Logger

	// mu serializes syncs triggered by the watcher and the CLI.
	mu sync.Mutex
}

// NewSyncer creates a syncer.
func NewSyncer(reg *registry.Registry, cfg *SyncConfig) *Syncer {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "default"
	}
	return &Syncer{
		registry: reg,
		loader:   NewLoader(cfg.Loader),
		config:   cfg,
		logger:   slog.Default().With("component", "policy.source"),
	}
}

// Dir returns the synced path.
func (s *Syncer) Dir() string {
	return s.config.Dir
}

// Sync loads the configured path and applies every document. See SyncPath.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	return s.SyncPath(ctx, s.config.Dir)
}

// SyncPath loads path and applies every document. A document whose
// structural content matches the latest stored version of its code is left
// alone. A changed document replaces the latest version when that version
// is still a draft, and creates a new draft version otherwise. Documents
// that fail to load or apply are reported in an *ErrorList; the rest are
// still applied.
func (s *Syncer) SyncPath(ctx context.Context, path string) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, loadErr := s.loader.LoadDirectory(path)
	errList := &ErrorList{}
	var list *ErrorList
	switch {
	case errors.As(loadErr, &list):
		errList.Errors = append(errList.Errors, list.Errors...)
	case loadErr != nil:
		return nil, loadErr
	}

	result := &SyncResult{Documents: len(docs)}
	for _, doc := range docs {
		if err := s.apply(ctx, doc, result); err != nil {
			errList.Add(fmt.Errorf("%s (%s): %w", doc.Code, doc.Path, err))
		}
	}

	s.logger.Info("policy sync complete",
		"path", path,
		"documents", result.Documents,
		"created", len(result.Created),
		"updated", len(result.Updated),
		"activated", len(result.Activated),
		"unchanged", result.Unchanged,
		"errors", len(errList.Errors),
	)

	if errList.HasErrors() {
		return result, errList
	}
	return result, nil
}

func (s *Syncer) apply(ctx context.Context, doc *Document, result *SyncResult) error {
	t := s.normalize(doc)

	versions, err := s.registry.Versions(ctx, t.TenantID, t.Code)
	if err != nil {
		return err
	}

	var latest *policy.Template
	if len(versions) > 0 {
		latest = versions[len(versions)-1]
	}

	switch {
	case latest != nil && latest.Fingerprint() == t.Fingerprint():
		result.Unchanged++

	case latest != nil && latest.Status == policy.StatusDraft:
		latest, err = s.registry.UpdateDraft(ctx, latest.ID, t)
		if err != nil {
			return err
		}
		result.Updated = append(result.Updated, latest.ID)

	default:
		latest, err = s.registry.CreateDraft(ctx, t)
		if err != nil {
			return err
		}
		result.Created = append(result.Created, latest.ID)
	}

	if doc.Activate && latest.Status == policy.StatusDraft {
		if _, err := s.registry.Activate(ctx, latest.ID); err != nil {
			return err
		}
		result.Activated = append(result.Activated, latest.ID)
	}
	return nil
}

// normalize fills the defaults the registry would apply so fingerprints of
// unchanged documents match their stored versions.
func (s *Syncer) normalize(doc *Document) *policy.Template {
	t := doc.Template()
	if t.TenantID == "" {
		t.TenantID = s.config.TenantID
	}
	t.Scope.TenantID = t.TenantID
	if t.Mode == "" {
		t.Mode = s.config.Thresholds.DefaultMode(t.Confidence)
	}
	return t
}
