package git

import "time"

// CommitInfo describes the commit policies were synced from.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Branch    string    `json:"branch"`
}

// Short returns the abbreviated SHA.
func (c *CommitInfo) Short() string {
	return shortSHA(c.SHA)
}

// PullResult describes one fetch of the tracked branch.
type PullResult struct {
	FromSHA string
	ToSHA   string

	// ChangedFiles are repository-relative paths touched between FromSHA
	// and ToSHA.
	ChangedFiles []string
}

// Changed reports whether HEAD moved.
func (p *PullResult) Changed() bool {
	return p.FromSHA != p.ToSHA
}

// Stats counts source activity.
type Stats struct {
	Polls        int64
	FailedPolls  int64
	Syncs        int64
	FailedSyncs  int64
	LastSyncedAt time.Time
	SyncedSHA    string
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
