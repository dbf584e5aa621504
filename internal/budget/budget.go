package budget

import "fmt"

// Config defines spending guardrails for a research session.
type Config struct {
	MaxCost        *float64
	MaxTimeSeconds *int64
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{}
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	if c.MaxTimeSeconds != nil {
		v := *c.MaxTimeSeconds
		clone.MaxTimeSeconds = &v
	}
	return clone
}

// Merge overlays non-nil values from override onto base.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxCost != nil {
		v := *override.MaxCost
		result.MaxCost = &v
	}
	if override.MaxTimeSeconds != nil {
		v := *override.MaxTimeSeconds
		result.MaxTimeSeconds = &v
	}
	return result
}

// IsZero reports whether the config defines no explicit limits.
func (c Config) IsZero() bool {
	if c.MaxCost != nil && *c.MaxCost != 0 {
		return false
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds != 0 {
		return false
	}
	return true
}
