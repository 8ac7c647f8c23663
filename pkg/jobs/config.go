package jobs

import (
	"fmt"
	"time"
)

// AuditConfig controls the scheduled conformity audit.
type AuditConfig struct {
	Enabled     bool          // Whether scheduled audits run. Default false.
	Interval    time.Duration // Time between audit starts. Default 15m.
	Partitioned bool          // Use the per-gamme worker pool instead of the single aggregate. Default false.
	Workers     int           // Per-gamme concurrency for partitioned audits. Default 4.
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:     false,
		Interval:    15 * time.Minute,
		Partitioned: false,
		Workers:     4,
	}
}

// Validate rejects settings the runner cannot honor.
func (c *AuditConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive, got %s", c.Interval)
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("audit.workers must be in [1, 32], got %d", c.Workers)
	}
	return nil
}
