// Package stress implements scenario-based stress testing, suite
// aggregation and reverse stress search on GBM-simulated portfolios.
package stress

import (
	"math"

	"github.com/google/uuid"

	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// ShockParameters describe how a scenario perturbs the simulation inputs.
type ShockParameters struct {
	// EquityReturnShock is a fractional return shock over the scenario
	// horizon, negative for declines. It is spread into the drift as
	// shock/horizon.
	EquityReturnShock float64 `json:"equity_return_shock"`
	// RateShiftBps shifts the rate environment in basis points; higher
	// rates reduce the drift by bps/10000.
	RateShiftBps float64 `json:"rate_shift_bps"`
	// VolatilityMultiplier scales volatility when positive.
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	// VolatilityShift is added to volatility after scaling.
	VolatilityShift float64 `json:"volatility_shift"`
	// CorrelationShift raises pairwise correlations in multi-asset runs,
	// applied through ApplyCorrelations. Single-asset stress runs have no
	// correlation structure to shock and ignore it.
	CorrelationShift float64 `json:"correlation_shift"`
}

// Scenario is a stress scenario.
type Scenario struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Severity     types.Severity  `json:"severity"`
	HorizonYears float64         `json:"horizon_years"`
	Probability  float64         `json:"probability"`
	Shocks       ShockParameters `json:"shocks"`
}

// Validate checks scenario consistency.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return types.NewValidationError("name", "must not be empty")
	}
	if s.HorizonYears <= 0 {
		return types.NewValidationError("horizon_years", "must be positive, got %v", s.HorizonYears)
	}
	if s.Probability < 0 || s.Probability > 1 {
		return types.NewValidationError("probability", "must be in [0, 1], got %v", s.Probability)
	}
	if s.Shocks.VolatilityMultiplier < 0 {
		return types.NewValidationError("volatility_multiplier", "must be non-negative, got %v", s.Shocks.VolatilityMultiplier)
	}
	return nil
}

// Apply produces the stressed simulation parameters.
func (s Scenario) Apply(base simulation.Parameters) simulation.Parameters {
	stressed := base
	stressed.HorizonYears = s.HorizonYears

	drift := base.Drift
	if s.Shocks.EquityReturnShock != 0 {
		drift += s.Shocks.EquityReturnShock / s.HorizonYears
	}
	drift -= s.Shocks.RateShiftBps / 10000
	stressed.Drift = drift

	vol := base.Volatility
	if s.Shocks.VolatilityMultiplier > 0 {
		vol *= s.Shocks.VolatilityMultiplier
	}
	vol += s.Shocks.VolatilityShift
	stressed.Volatility = math.Max(vol, 0)

	return stressed
}

// ApplyCorrelated produces stressed multi-asset simulation parameters.
// Drift and volatility shocks hit every asset; the correlation shift
// compresses diversification across the matrix.
func (s Scenario) ApplyCorrelated(base simulation.CorrelatedParameters) simulation.CorrelatedParameters {
	stressed := base
	stressed.HorizonYears = s.HorizonYears

	stressed.Assets = make([]simulation.AssetParameters, len(base.Assets))
	for i, a := range base.Assets {
		single := s.Apply(simulation.Parameters{
			InitialValue: a.InitialValue,
			Drift:        a.Drift,
			Volatility:   a.Volatility,
			HorizonYears: base.HorizonYears,
		})
		a.Drift = single.Drift
		a.Volatility = single.Volatility
		stressed.Assets[i] = a
	}

	stressed.Correlations = s.ApplyCorrelations(base.Correlations)
	return stressed
}

// ApplyCorrelations returns a stressed copy of a correlation matrix with
// every off-diagonal pair moved toward 1 by the scenario's correlation
// shift. Crises compress diversification, so the shift acts on the
// remaining distance to perfect correlation rather than adding outright.
func (s Scenario) ApplyCorrelations(corr [][]float64) [][]float64 {
	shift := math.Min(math.Max(s.Shocks.CorrelationShift, 0), 1)
	stressed := make([][]float64, len(corr))
	for i, row := range corr {
		stressed[i] = make([]float64, len(row))
		copy(stressed[i], row)
		for j := range row {
			if i == j {
				continue
			}
			stressed[i][j] += shift * (1 - stressed[i][j])
		}
	}
	return stressed
}

// FinancialCrisis2008 is the 2008 global financial crisis scenario.
func FinancialCrisis2008() Scenario {
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "2008 Financial Crisis",
		Description:  "Global financial crisis with equity collapse and credit spread blowout",
		Severity:     types.SeverityExtreme,
		HorizonYears: 1,
		Probability:  0.01,
		Shocks: ShockParameters{
			EquityReturnShock:    -0.40,
			RateShiftBps:         400,
			VolatilityMultiplier: 2.5,
			CorrelationShift:     0.3,
		},
	}
}

// CovidCrash2020 is the March 2020 pandemic crash scenario.
func CovidCrash2020() Scenario {
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "COVID-19 Crash 2020",
		Description:  "Pandemic-driven liquidity shock and volatility spike",
		Severity:     types.SeveritySevere,
		HorizonYears: 1,
		Probability:  0.02,
		Shocks: ShockParameters{
			EquityReturnShock:    -0.35,
			RateShiftBps:         300,
			VolatilityMultiplier: 3.0,
			CorrelationShift:     0.4,
		},
	}
}

// EUDebtCrisis2011 is the European sovereign debt crisis scenario.
func EUDebtCrisis2011() Scenario {
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "EU Debt Crisis 2011",
		Description:  "European sovereign debt stress with currency depreciation",
		Severity:     types.SeveritySevere,
		HorizonYears: 3,
		Probability:  0.015,
		Shocks: ShockParameters{
			EquityReturnShock:    -0.25,
			VolatilityMultiplier: 2.0,
			CorrelationShift:     0.25,
		},
	}
}

// HistoricalScenarios returns the built-in historical scenario library.
func HistoricalScenarios() []Scenario {
	return []Scenario{
		FinancialCrisis2008(),
		CovidCrash2020(),
		EUDebtCrisis2011(),
	}
}

var crashShocks = map[types.Severity]float64{
	types.SeverityMild:     -0.10,
	types.SeverityModerate: -0.25,
	types.SeveritySevere:   -0.40,
	types.SeverityExtreme:  -0.55,
}

var rateShocks = map[types.Severity]float64{
	types.SeverityMild:     100,
	types.SeverityModerate: 200,
	types.SeveritySevere:   400,
	types.SeverityExtreme:  600,
}

// NewMarketCrashScenario builds a hypothetical equity crash graded by
// severity.
func NewMarketCrashScenario(severity types.Severity) Scenario {
	shock := crashShocks[severity]
	if shock == 0 {
		shock = crashShocks[types.SeverityModerate]
		severity = types.SeverityModerate
	}
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "Market Crash (" + string(severity) + ")",
		Description:  "Hypothetical equity market crash",
		Severity:     severity,
		HorizonYears: 1,
		Shocks: ShockParameters{
			EquityReturnShock:    shock,
			VolatilityMultiplier: 1 - shock*2,
		},
	}
}

// NewRateShockScenario builds a hypothetical interest rate shock graded
// by severity.
func NewRateShockScenario(severity types.Severity) Scenario {
	bps := rateShocks[severity]
	if bps == 0 {
		bps = rateShocks[types.SeverityModerate]
		severity = types.SeverityModerate
	}
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "Rate Shock (" + string(severity) + ")",
		Description:  "Hypothetical parallel interest rate shift",
		Severity:     severity,
		HorizonYears: 1,
		Shocks: ShockParameters{
			RateShiftBps:         bps,
			VolatilityMultiplier: 1.2,
		},
	}
}
