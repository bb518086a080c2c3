// Package fair implements FAIR (Factor Analysis of Information Risk)
// quantification on top of GBM loss magnitude simulation.
package fair

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// FrequencyDistribution selects the threat event frequency model.
type FrequencyDistribution string

const (
	FrequencyTriangular FrequencyDistribution = "triangular"
	FrequencyLogNormal  FrequencyDistribution = "lognormal"
	FrequencyPoisson    FrequencyDistribution = "poisson"
)

// Frequency models annual threat event frequency.
type Frequency struct {
	Min          float64               `json:"min"`
	MostLikely   float64               `json:"most_likely"`
	Max          float64               `json:"max"`
	Distribution FrequencyDistribution `json:"distribution"`
}

// Validate checks the frequency parameters.
func (f Frequency) Validate() error {
	if f.Min < 0 {
		return types.NewValidationError("frequency.min", "must be non-negative, got %v", f.Min)
	}
	if f.MostLikely < f.Min || f.MostLikely > f.Max {
		return types.NewValidationError("frequency.most_likely",
			"must lie within [min, max], got %v outside [%v, %v]", f.MostLikely, f.Min, f.Max)
	}
	if f.Max <= 0 {
		return types.NewValidationError("frequency.max", "must be positive, got %v", f.Max)
	}
	if f.Distribution == FrequencyLogNormal && f.Min <= 0 {
		return types.NewValidationError("frequency.min",
			"must be positive for the lognormal distribution, got %v", f.Min)
	}
	return nil
}

// Sample draws n annual frequencies.
func (f Frequency) Sample(n int, src rand.Source) ([]float64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	samples := make([]float64, n)
	if f.Min == f.Max {
		for i := range samples {
			samples[i] = f.MostLikely
		}
		return samples, nil
	}

	switch f.Distribution {
	case FrequencyLogNormal:
		dist := distuv.LogNormal{
			Mu:    math.Log(f.MostLikely),
			Sigma: (math.Log(f.Max) - math.Log(f.Min)) / 4,
			Src:   src,
		}
		for i := range samples {
			samples[i] = dist.Rand()
		}
	case FrequencyPoisson:
		dist := distuv.Poisson{Lambda: f.MostLikely, Src: src}
		for i := range samples {
			samples[i] = dist.Rand()
		}
	default:
		dist := distuv.NewTriangle(f.Min, f.Max, f.MostLikely, src)
		for i := range samples {
			samples[i] = dist.Rand()
		}
	}
	return samples, nil
}
