package nodelist

import (
	"errors"
	"fmt"
	"time"
)

// WeightConfig controls how trust weights react to request outcomes.
//
// A success multiplies the weight by SuccessFactor (capped at Ceiling), a
// failure multiplies it by FailureFactor. Once the weight drops below Floor,
// or a node fails MaxConsecutiveFailures times in a row, the node is
// blacklisted for BlacklistDuration. After that it returns on probation with
// weight Floor.
type WeightConfig struct {
	// InitialWeight is the weight of a newly discovered node, scaled by the
	// capacity weight the node registered with.
	InitialWeight float64 `mapstructure:"initial-weight"`
	Ceiling       float64 `mapstructure:"ceiling"`
	Floor         float64 `mapstructure:"floor"`
	SuccessFactor float64 `mapstructure:"success-factor"`
	FailureFactor float64 `mapstructure:"failure-factor"`

	MaxConsecutiveFailures int           `mapstructure:"max-consecutive-failures"`
	BlacklistDuration      time.Duration `mapstructure:"blacklist-duration"`
}

// DefaultWeightConfig returns the default weight configuration:
//
//	InitialWeight          1
//	Ceiling                100
//	Floor                  0.01
//	SuccessFactor          1.1
//	FailureFactor          0.5
//	MaxConsecutiveFailures 3
//	BlacklistDuration      24h
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		InitialWeight:          1,
		Ceiling:                100,
		Floor:                  0.01,
		SuccessFactor:          1.1,
		FailureFactor:          0.5,
		MaxConsecutiveFailures: 3,
		BlacklistDuration:      24 * time.Hour,
	}
}

// ValidateBasic performs basic validation.
func (c WeightConfig) ValidateBasic() error {
	switch {
	case c.InitialWeight <= 0:
		return errors.New("initial-weight must be positive")
	case c.Floor <= 0:
		return errors.New("floor must be positive")
	case c.Ceiling < c.InitialWeight || c.Ceiling < c.Floor:
		return fmt.Errorf("ceiling (%v) must not be below initial-weight (%v) or floor (%v)",
			c.Ceiling, c.InitialWeight, c.Floor)
	case c.SuccessFactor < 1:
		return fmt.Errorf("success-factor must be >= 1, got %v", c.SuccessFactor)
	case c.FailureFactor < 0 || c.FailureFactor >= 1:
		return fmt.Errorf("failure-factor must be in [0, 1), got %v", c.FailureFactor)
	case c.MaxConsecutiveFailures < 1:
		return errors.New("max-consecutive-failures must be at least 1")
	case c.BlacklistDuration <= 0:
		return errors.New("blacklist-duration must be positive")
	}
	return nil
}
