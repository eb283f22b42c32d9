package config

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Initialize loads configuration (file plus WARDEN_* overrides) into the
// process-wide instance used by the CLI. Calling it again replaces the
// instance only when loading succeeds.
func Initialize(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return err
	}
	SetConfig(cfg)
	return nil
}

// GetConfig returns the process-wide configuration, or nil before Initialize.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// SetConfig replaces the process-wide configuration. Tests use it to inject
// a config without touching the filesystem.
func SetConfig(cfg *Config) {
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// ReloadConfig re-reads path. The previous configuration stays in place
// when the new one fails to load or validate.
func ReloadConfig(path string) error {
	if err := Initialize(path); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	return nil
}

// MustGetConfig is GetConfig that panics when the configuration was never
// initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
