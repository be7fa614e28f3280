package network

import (
	"fmt"
	"math"
	"strings"
)

// LossModel maps the resistance of a supplying path to the fraction of the
// drawn energy lost in transport. Implementations must be monotonic
// non-decreasing in resistance and return values in [0,1].
type LossModel interface {
	LossFraction(resistanceOhms float64) float64
}

// DefaultReferenceOhms loses about 4% over a 10km grid backbone run.
const DefaultReferenceOhms = 50.0

// ExponentialLoss loses 1 - exp(-R/ReferenceOhms). It approaches but never
// reaches total loss.
type ExponentialLoss struct {
	ReferenceOhms float64
}

func (l ExponentialLoss) LossFraction(r float64) float64 {
	if !(r > 0) || !(l.ReferenceOhms > 0) {
		return 0
	}
	return 1 - math.Exp(-r/l.ReferenceOhms)
}

// LinearLoss loses R*PerOhm, saturating at 1.
type LinearLoss struct {
	PerOhm float64
}

func (l LinearLoss) LossFraction(r float64) float64 {
	if !(r > 0) || !(l.PerOhm > 0) {
		return 0
	}
	return math.Min(1, r*l.PerOhm)
}

// NoLoss delivers everything that is drawn.
type NoLoss struct{}

func (NoLoss) LossFraction(float64) float64 { return 0 }

// LossConfig selects a LossModel by name.
type LossConfig struct {
	Model         string  `json:"Model" yaml:"model"`
	ReferenceOhms float64 `json:"ReferenceOhms" yaml:"reference_ohms"`
	PerOhm        float64 `json:"PerOhm" yaml:"per_ohm"`
}

// Build returns the configured model. An empty model name is exponential.
func (c LossConfig) Build() (LossModel, error) {
	switch strings.ToLower(c.Model) {
	case "", "exponential":
		ref := c.ReferenceOhms
		if ref == 0 {
			ref = DefaultReferenceOhms
		}
		if ref < 0 {
			return nil, fmt.Errorf("network: negative loss reference %v", ref)
		}
		return ExponentialLoss{ref}, nil
	case "linear":
		if c.PerOhm < 0 {
			return nil, fmt.Errorf("network: negative loss slope %v", c.PerOhm)
		}
		return LinearLoss{c.PerOhm}, nil
	case "none":
		return NoLoss{}, nil
	}
	return nil, fmt.Errorf("network: unknown loss model %q", c.Model)
}
