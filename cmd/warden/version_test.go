package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "1.2.3-test", "abc123"
	defer func() { Version, GitCommit = origVersion, origCommit }()

	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "Warden 1.2.3-test") {
		t.Errorf("output missing version:\n%s", out)
	}
	if !strings.Contains(out, "Git Commit: abc123") {
		t.Errorf("output missing commit:\n%s", out)
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCLI(t, "version", "-o", "json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}

	var info struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if info.Version != Version || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string][]string{
		"policy":     {"list", "show", "versions", "sync", "validate", "activate", "retire", "enable", "disable", "run-now"},
		"executions": {"query", "show", "export"},
		"violations": {"list", "show", "complete-training", "acknowledge", "appeal", "decide", "sweep"},
		"audit":      {"run", "latest", "history"},
	}

	for group, subs := range want {
		cmd, _, err := rootCmd.Find([]string{group})
		if err != nil || cmd.Name() != group {
			t.Errorf("command %q not registered", group)
			continue
		}
		for _, sub := range subs {
			if c, _, err := rootCmd.Find([]string{group, sub}); err != nil || c.Name() != sub {
				t.Errorf("command %q %q not registered", group, sub)
			}
		}
	}

	for _, name := range []string{"run", "version"} {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
