package federation

import (
	"fmt"
	"time"
)

const (
	DefaultFederation   = "infrastructure"
	DefaultFederateType = "sipg"
	// DefaultUnitsPerYear divides evenly by every iteration count up to 6.
	DefaultUnitsPerYear = 1200
	DefaultWaitTimeout  = 30 * time.Second
)

// Config configures one federate.
type Config struct {
	Federation   string
	FederateName string // generated from FederateType when empty
	FederateType string
	UnitsPerYear int64
	WaitTimeout  time.Duration
	// CheckpointDir, when set, receives the initial-state save so a later
	// process can restore it.
	CheckpointDir string
}

// NewConfig returns a configuration with defaults filled in.
func NewConfig() Config {
	return Config{
		Federation:   DefaultFederation,
		FederateType: DefaultFederateType,
		UnitsPerYear: DefaultUnitsPerYear,
		WaitTimeout:  DefaultWaitTimeout,
	}
}

// Validate checks the configuration against the simulation's iteration count.
func (c Config) Validate(iterations int) error {
	switch {
	case c.Federation == "":
		return fmt.Errorf("federation name is required")
	case c.UnitsPerYear <= 0:
		return fmt.Errorf("units per year must be positive, got %d", c.UnitsPerYear)
	case iterations <= 0 || c.UnitsPerYear%int64(iterations) != 0:
		return fmt.Errorf("units per year %d is not divisible by %d iterations", c.UnitsPerYear, iterations)
	case c.WaitTimeout <= 0:
		return fmt.Errorf("wait timeout must be positive, got %s", c.WaitTimeout)
	}
	return nil
}
