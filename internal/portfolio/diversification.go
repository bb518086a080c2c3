package portfolio

import (
	"math"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// RiskContribution is one asset's share of portfolio risk.
type RiskContribution struct {
	Weight                float64 `json:"weight"`
	MarginalContribution  float64 `json:"marginal_contribution"`
	ComponentContribution float64 `json:"component_contribution"`
	RiskPercentage        float64 `json:"risk_percentage"`
}

// DiversificationMetrics summarize how concentrated an allocation is.
type DiversificationMetrics struct {
	EffectiveAssets      float64                     `json:"effective_number_assets"`
	HerfindahlIndex      float64                     `json:"herfindahl_index"`
	DiversificationRatio float64                     `json:"diversification_ratio"`
	PortfolioVolatility  float64                     `json:"portfolio_volatility"`
	CorrelationRisk      float64                     `json:"correlation_risk"`
	RiskContributions    map[string]RiskContribution `json:"risk_contributions"`
	SectorWeights        map[string]float64          `json:"sector_weights,omitempty"`
	Warnings             []string                    `json:"warnings,omitempty"`
}

// Diversification computes concentration and risk contribution metrics
// for an allocation over the given assets.
func Diversification(assets []Asset, corr *CorrelationMatrix, weights map[string]float64) (*DiversificationMetrics, error) {
	if err := corr.Validate(); err != nil {
		return nil, err
	}
	if len(assets) != len(corr.AssetIDs) {
		return nil, types.NewValidationError("assets",
			"asset count %d does not match correlation matrix size %d", len(assets), len(corr.AssetIDs))
	}

	n := len(assets)
	w := make([]float64, n)
	for i, a := range assets {
		w[i] = weights[a.ID]
	}

	cov := covarianceMatrix(assets, corr)
	variance := portfolioVariance(cov, w)
	vol := math.Sqrt(math.Max(variance, 0))

	m := &DiversificationMetrics{
		PortfolioVolatility: vol,
		RiskContributions:   make(map[string]RiskContribution, n),
		SectorWeights:       make(map[string]float64),
	}

	sumSquares := 0.0
	weightedVol := 0.0
	for i, a := range assets {
		sumSquares += w[i] * w[i]
		weightedVol += w[i] * a.Volatility
		if a.Sector != "" {
			m.SectorWeights[a.Sector] += w[i]
		}
	}
	m.HerfindahlIndex = sumSquares
	if sumSquares > 0 {
		m.EffectiveAssets = 1 / sumSquares
	} else {
		m.Warnings = append(m.Warnings, "effective_number_assets defaulted to 0: all weights are zero")
	}
	if vol > 0 {
		m.DiversificationRatio = weightedVol / vol
	} else {
		m.DiversificationRatio = 1
		m.Warnings = append(m.Warnings, "diversification_ratio defaulted to 1: zero portfolio volatility")
	}

	// Average absolute pairwise correlation.
	sumAbs, pairs := 0.0, 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				sumAbs += math.Abs(corr.Matrix[i][j])
				pairs++
			}
		}
	}
	if pairs > 0 {
		m.CorrelationRisk = sumAbs / float64(pairs)
	}

	totalComponent := 0.0
	marginals := make([]float64, n)
	for i := 0; i < n; i++ {
		marginal := 0.0
		for j := 0; j < n; j++ {
			marginal += cov.At(i, j) * w[j]
		}
		if vol > 0 {
			marginal /= vol
		}
		marginals[i] = marginal
		totalComponent += w[i] * marginal
	}
	for i, a := range assets {
		component := w[i] * marginals[i]
		pct := 0.0
		if totalComponent > 0 {
			pct = component / totalComponent * 100
		}
		m.RiskContributions[a.ID] = RiskContribution{
			Weight:                w[i],
			MarginalContribution:  marginals[i],
			ComponentContribution: component,
			RiskPercentage:        pct,
		}
	}
	if len(m.SectorWeights) == 0 {
		m.SectorWeights = nil
	}
	return m, nil
}
