package git

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"fleetguard/warden/pkg/config"
)

// NewAuth returns the transport credentials described by cfg. A nil
// method with a nil error means anonymous access.
func NewAuth(cfg *config.GitAuthConfig) (transport.AuthMethod, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Type {
	case "", "none":
		return nil, nil

	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires a token")
		}
		// Hosting providers ignore the username when a token is the password.
		return &http.BasicAuth{Username: "warden", Password: cfg.Token}, nil

	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		info, err := os.Stat(cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to access ssh key: %w", err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return nil, fmt.Errorf("ssh key permissions too open (%o), want 0600", perm)
		}
		keys, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, cfg.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load ssh key: %w", err)
		}
		return keys, nil

	default:
		return nil, fmt.Errorf("unknown git auth type %q", cfg.Type)
	}
}
