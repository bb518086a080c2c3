package fair

import "github.com/atlas-desktop/risk-engine/internal/simulation"

// StandardScenarios returns calibrated starting points for common threat
// types. Callers adjust the parameters to their own environment before
// running an analysis.
func StandardScenarios() map[string]Parameters {
	return map[string]Parameters{
		"cyber_attack": {
			ThreatType: "cyber_attack",
			Frequency: Frequency{
				Min:          0.5,
				MostLikely:   2.0,
				Max:          8.0,
				Distribution: FrequencyLogNormal,
			},
			PrimaryLoss: LossModel{
				Simulation: simulation.Parameters{
					InitialValue: 100_000,
					Drift:        0.05,
					Volatility:   0.3,
					HorizonYears: 1,
					Steps:        12,
					Seed:         1,
					TimeUnit:     simulation.TimeUnitMonths,
				},
				MinLoss: 10_000,
				MaxLoss: 2_000_000,
			},
			SecondaryLoss: &LossModel{
				Simulation: simulation.Parameters{
					InitialValue: 500_000,
					Drift:        0.1,
					Volatility:   0.5,
					HorizonYears: 1,
					Steps:        12,
					Seed:         2,
					TimeUnit:     simulation.TimeUnitMonths,
				},
				MinLoss: 50_000,
				MaxLoss: 10_000_000,
			},
			Controls: []Control{
				{Type: ControlPreventive, Effectiveness: 0.7, ImplementationQuality: 0.8, DegradationRate: 0.1, Confidence: 0.8},
				{Type: ControlDetective, Effectiveness: 0.6, ImplementationQuality: 0.7, DegradationRate: 0.05, Confidence: 0.75},
			},
			ThreatCapability:         0.7,
			OrganizationalResilience: 0.5,
		},
		"data_breach": {
			ThreatType: "data_breach",
			Frequency: Frequency{
				Min:          0.1,
				MostLikely:   0.5,
				Max:          2.0,
				Distribution: FrequencyLogNormal,
			},
			PrimaryLoss: LossModel{
				Simulation: simulation.Parameters{
					InitialValue: 1_000_000,
					Drift:        0.08,
					Volatility:   0.4,
					HorizonYears: 1,
					Steps:        12,
					Seed:         3,
					TimeUnit:     simulation.TimeUnitMonths,
				},
				MinLoss: 100_000,
				MaxLoss: 50_000_000,
			},
			Controls: []Control{
				{Type: ControlPreventive, Effectiveness: 0.65, ImplementationQuality: 0.75, DegradationRate: 0.08, Confidence: 0.7},
			},
			ThreatCapability:         0.6,
			OrganizationalResilience: 0.6,
		},
		"operational_risk": {
			ThreatType: "operational_risk",
			Frequency: Frequency{
				Min:          1.0,
				MostLikely:   4.0,
				Max:          12.0,
				Distribution: FrequencyTriangular,
			},
			PrimaryLoss: LossModel{
				Simulation: simulation.Parameters{
					InitialValue: 50_000,
					Drift:        0.03,
					Volatility:   0.25,
					HorizonYears: 1,
					Steps:        12,
					Seed:         4,
					TimeUnit:     simulation.TimeUnitMonths,
				},
				MinLoss: 5_000,
				MaxLoss: 1_000_000,
			},
			Controls: []Control{
				{Type: ControlPreventive, Effectiveness: 0.75, ImplementationQuality: 0.8, DegradationRate: 0.05, Confidence: 0.85},
				{Type: ControlCorrective, Effectiveness: 0.5, ImplementationQuality: 0.7, DegradationRate: 0.1, Confidence: 0.7},
			},
			ThreatCapability:         0.4,
			OrganizationalResilience: 0.7,
		},
	}
}
