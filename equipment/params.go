package equipment

import (
	"errors"
	"fmt"
)

// SimParams shapes the simulated process. All values are in display units:
// rpm, bar, degrees Celsius.
type SimParams struct {
	DefaultMode string `toml:"default_mode"`

	// START sets rpm to clamp(value*RPMPerSetpoint, 0, StartRPMMax).
	RPMPerSetpoint int `toml:"rpm_per_setpoint"`
	StartRPMMax    int `toml:"start_rpm_max"`

	RPMMax       int `toml:"rpm_max"`
	RPMJitter    int `toml:"rpm_jitter"`
	OverspeedRPM int `toml:"overspeed_rpm"`

	PressureMin    float64 `toml:"pressure_min"`
	PressureMax    float64 `toml:"pressure_max"`
	PressureJitter float64 `toml:"pressure_jitter"`

	TempMin      float64 `toml:"temp_min"`
	TempMax      float64 `toml:"temp_max"`
	TempJitter   float64 `toml:"temp_jitter"`
	HeatCoupling float64 `toml:"heat_coupling"`

	BaselineTemp     float64 `toml:"baseline_temp"`
	BaselinePressure float64 `toml:"baseline_pressure"`
	TempDecay        float64 `toml:"temp_decay"`
	PressureDecay    float64 `toml:"pressure_decay"`
}

// DefaultSimParams returns the stock process profile.
func DefaultSimParams() SimParams {
	return SimParams{
		DefaultMode:      "A",
		RPMPerSetpoint:   10,
		StartRPMMax:      6000,
		RPMMax:           6500,
		RPMJitter:        50,
		OverspeedRPM:     6200,
		PressureMin:      0.80,
		PressureMax:      1.50,
		PressureJitter:   0.05,
		TempMin:          20.0,
		TempMax:          90.0,
		TempJitter:       0.20,
		HeatCoupling:     0.05,
		BaselineTemp:     25.0,
		BaselinePressure: 1.00,
		TempDecay:        0.05,
		PressureDecay:    0.01,
	}
}

var ErrInvalidParams = errors.New("equipment: invalid simulation parameters")

// Validate rejects profiles the tick cannot honour.
func (p SimParams) Validate() error {
	switch {
	case p.RPMMax <= 0:
		return fmt.Errorf("%w: rpm_max must be positive", ErrInvalidParams)
	case p.StartRPMMax < 0 || p.StartRPMMax > p.RPMMax:
		return fmt.Errorf("%w: start_rpm_max must be within [0, rpm_max]", ErrInvalidParams)
	case p.RPMJitter < 0 || p.RPMPerSetpoint < 0:
		return fmt.Errorf("%w: rpm_jitter and rpm_per_setpoint must not be negative", ErrInvalidParams)
	case p.PressureMin > p.PressureMax:
		return fmt.Errorf("%w: pressure_min exceeds pressure_max", ErrInvalidParams)
	case p.TempMin > p.TempMax:
		return fmt.Errorf("%w: temp_min exceeds temp_max", ErrInvalidParams)
	case p.TempDecay < 0 || p.PressureDecay < 0:
		return fmt.Errorf("%w: decay must not be negative", ErrInvalidParams)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// approach moves v toward target by at most step without crossing it.
func approach(v, target, step float64) float64 {
	switch {
	case v > target:
		if v-step < target {
			return target
		}
		return v - step
	case v < target:
		if v+step > target {
			return target
		}
		return v + step
	}
	return v
}
