// Package git syncs policy templates from a Git repository.
//
// A Source clones the configured branch (token, SSH or anonymous auth via
// go-git), syncs the YAML files under the configured path into the policy
// registry, then polls the branch. Commits that do not touch YAML under the
// policy path are ignored.
//
//	src, err := git.NewSource(&cfg.Policies.Git, syncer)
//	if err != nil {
//		return err
//	}
//	if _, err := src.Init(ctx); err != nil {
//		return err
//	}
//	go src.Run(ctx)
//
// Documents that fail validation are reported and skipped. Every earlier
// registry version stays untouched, which is what keeps the last good
// policy in force.
package git
