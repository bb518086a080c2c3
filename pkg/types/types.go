// Package types provides shared type definitions for the risk engine.
package types

import (
	"github.com/shopspring/decimal"
)

// RiskRating buckets a quantified exposure for reporting.
type RiskRating string

const (
	RiskRatingLow      RiskRating = "low"
	RiskRatingMedium   RiskRating = "medium"
	RiskRatingHigh     RiskRating = "high"
	RiskRatingCritical RiskRating = "critical"
)

// Verdict is the outcome of a statistical test or model review.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictWarning      Verdict = "warning"
	VerdictInconclusive Verdict = "inconclusive"
)

// Severity grades a stress scenario.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
)

// BaselZone is the Basel traffic-light classification of a VaR backtest.
type BaselZone string

const (
	BaselZoneGreen  BaselZone = "green"
	BaselZoneYellow BaselZone = "yellow"
	BaselZoneRed    BaselZone = "red"
)

// VaRMethod selects how value-at-risk is estimated.
type VaRMethod string

const (
	VaRMethodHistorical VaRMethod = "historical"
	VaRMethodParametric VaRMethod = "parametric"
	VaRMethodMonteCarlo VaRMethod = "monte_carlo"
)

// RiskThresholds hold the monetary cut lines between rating buckets.
type RiskThresholds struct {
	Low    decimal.Decimal `json:"low"`
	Medium decimal.Decimal `json:"medium"`
	High   decimal.Decimal `json:"high"`
}

// DefaultRiskThresholds returns the standard annualized-loss cut lines.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		Low:    decimal.NewFromInt(100_000),
		Medium: decimal.NewFromInt(1_000_000),
		High:   decimal.NewFromInt(10_000_000),
	}
}

// Rate classifies an exposure against the thresholds.
func (t RiskThresholds) Rate(exposure decimal.Decimal) RiskRating {
	switch {
	case exposure.LessThan(t.Low):
		return RiskRatingLow
	case exposure.LessThan(t.Medium):
		return RiskRatingMedium
	case exposure.LessThan(t.High):
		return RiskRatingHigh
	default:
		return RiskRatingCritical
	}
}
