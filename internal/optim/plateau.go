package optim

import (
	"fmt"
	"math"
)

// Plateau modes.
const (
	ModeMin = "min"
	ModeMax = "max"
)

// PlateauConfig configures ReduceLROnPlateau. Every field is used as given;
// start from DefaultPlateauConfig and change what differs.
type PlateauConfig struct {
	Mode      string  `yaml:"mode"`      // "min" or "max" (default: "min")
	Factor    float64 `yaml:"factor"`    // LR multiplier on reduction (default: 0.1)
	Patience  int     `yaml:"patience"`  // Bad steps tolerated before reducing (default: 10)
	Threshold float64 `yaml:"threshold"` // Relative improvement needed to count as better (default: 1e-4)
	Cooldown  int     `yaml:"cooldown"`  // Steps to wait after a reduction (default: 0)
	MinLR     float64 `yaml:"min_lr"`    // Lower bound on the LR (default: 0)
}

// DefaultPlateauConfig returns min mode, factor 0.1, patience 10 and a
// relative threshold of 1e-4.
func DefaultPlateauConfig() PlateauConfig {
	return PlateauConfig{
		Mode:      ModeMin,
		Factor:    0.1,
		Patience:  10,
		Threshold: 1e-4,
	}
}

// Validate checks the configuration.
func (c PlateauConfig) Validate() error {
	switch {
	case c.Mode != ModeMin && c.Mode != ModeMax:
		return fmt.Errorf("optim: plateau mode must be %q or %q, got %q", ModeMin, ModeMax, c.Mode)
	case c.Factor <= 0 || c.Factor >= 1:
		return fmt.Errorf("optim: plateau factor must be in (0, 1), got %g", c.Factor)
	case c.Threshold < 0:
		return fmt.Errorf("optim: plateau threshold must be non-negative, got %g", c.Threshold)
	case c.Patience < 0 || c.Cooldown < 0:
		return fmt.Errorf("optim: plateau patience and cooldown must be non-negative")
	case c.MinLR < 0:
		return fmt.Errorf("optim: plateau min_lr must be non-negative, got %g", c.MinLR)
	}
	return nil
}

// ReduceLROnPlateau multiplies the optimizer's learning rate by Factor once
// the monitored metric has failed to improve for more than Patience steps.
// Improvement is relative: in min mode a value counts as better when it is
// below best * (1 - Threshold).
type ReduceLROnPlateau struct {
	opt Optimizer
	cfg PlateauConfig

	best        float64
	numBad      int
	cooldownCtr int
	reductions  int
}

// NewReduceLROnPlateau wraps opt. It panics on an invalid configuration.
func NewReduceLROnPlateau(opt Optimizer, cfg PlateauConfig) *ReduceLROnPlateau {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	best := math.Inf(1)
	if cfg.Mode == ModeMax {
		best = math.Inf(-1)
	}
	return &ReduceLROnPlateau{opt: opt, cfg: cfg, best: best}
}

// Step records metric and reduces the learning rate when it has plateaued.
// It reports whether a reduction happened. NaN metrics count as bad steps.
func (s *ReduceLROnPlateau) Step(metric float64) bool {
	if s.better(metric) {
		s.best = metric
		s.numBad = 0
	} else {
		s.numBad++
	}

	if s.cooldownCtr > 0 {
		s.cooldownCtr--
		s.numBad = 0
	}

	if s.numBad <= s.cfg.Patience {
		return false
	}
	s.cooldownCtr = s.cfg.Cooldown
	s.numBad = 0

	old := float64(s.opt.LR())
	lr := math.Max(old*s.cfg.Factor, s.cfg.MinLR)
	if old-lr <= 1e-8 {
		return false
	}
	s.opt.SetLR(float32(lr))
	s.reductions++
	return true
}

func (s *ReduceLROnPlateau) better(metric float64) bool {
	if s.cfg.Mode == ModeMax {
		return metric > s.best*(1+s.cfg.Threshold)
	}
	return metric < s.best*(1-s.cfg.Threshold)
}

// Best returns the best metric seen so far.
func (s *ReduceLROnPlateau) Best() float64 { return s.best }

// Reductions returns how many times the learning rate was reduced.
func (s *ReduceLROnPlateau) Reductions() int { return s.reductions }

// Config returns the configuration.
func (s *ReduceLROnPlateau) Config() PlateauConfig { return s.cfg }
