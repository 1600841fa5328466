package batch

import (
	"fmt"
)

// DefaultMaxItems caps a scheduled batch when max_items is unset
const DefaultMaxItems = 50

// BatchConfig represents a scheduled batch of pending work items
type BatchConfig struct {
	Name             string `toml:"name"`
	Cron             string `toml:"cron"`
	MaxItems         int    `toml:"max_items"`
	NotifyOnComplete bool   `toml:"notify_on_complete"`
}

// Validate checks if the config is valid
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	return nil
}
