package scheduler

import (
	"fmt"
	"time"
)

// Config configures the scheduler.
type Config struct {
	// Owner identifies this engine instance on leases.
	Owner string

	// Tick is how often the due set is computed.
	Tick time.Duration

	// Workers bounds concurrent (policy, entity) evaluations.
	Workers int

	// LeaseTTL bounds how long a crashed worker can block a pair.
	LeaseTTL time.Duration

	// ExecutionTimeout is the ceiling for one execution.
	ExecutionTimeout time.Duration

	// PendingGrace is how long a record may stay pending before recovery
	// treats it as abandoned.
	PendingGrace time.Duration

	// RecoveryInterval is how often recovery runs after startup. Zero
	// runs recovery only at startup.
	RecoveryInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Owner:            "warden",
		Tick:             30 * time.Second,
		Workers:          8,
		LeaseTTL:         2 * time.Minute,
		ExecutionTimeout: time.Minute,
		PendingGrace:     10 * time.Minute,
		RecoveryInterval: 5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	if c.LeaseTTL < c.ExecutionTimeout {
		return fmt.Errorf("lease ttl %s must cover the execution timeout %s", c.LeaseTTL, c.ExecutionTimeout)
	}
	if c.PendingGrace <= c.ExecutionTimeout {
		return fmt.Errorf("pending grace %s must exceed the execution timeout %s", c.PendingGrace, c.ExecutionTimeout)
	}
	return nil
}
