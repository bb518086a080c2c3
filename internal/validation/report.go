package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/internal/telemetry"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Model risk score weights per finding class.
const (
	failedTestWeight      = 20
	redZoneWeight         = 30
	complianceIssueWeight = 15
)

// recommendedBacktestWindow is the regulatory one-year daily window.
const recommendedBacktestWindow = 250

// ModelInput bundles the data needed to validate one VaR model.
type ModelInput struct {
	ModelName    string                `json:"model_name"`
	Returns      []float64             `json:"returns"`
	VaRForecasts map[float64][]float64 `json:"var_forecasts"`
	LjungBoxLags int                   `json:"ljung_box_lags,omitempty"`
}

// Report is a completed model validation.
type Report struct {
	ReportID  string    `json:"report_id"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`

	Backtests   []*BacktestResult `json:"backtests"`
	Diagnostics []TestResult      `json:"diagnostics"`

	ComplianceIssues []string `json:"compliance_issues,omitempty"`

	ModelRiskScore  float64          `json:"model_risk_score"`
	RiskRating      types.RiskRating `json:"risk_rating"`
	Verdict         types.Verdict    `json:"verdict"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// Validator runs full model validations.
type Validator struct {
	logger   *zap.Logger
	recorder *telemetry.Recorder
}

// NewValidator creates a Validator.
func NewValidator(logger *zap.Logger, recorder *telemetry.Recorder) *Validator {
	return &Validator{logger: logger, recorder: recorder}
}

// ValidateModel backtests every forecast series, runs the distribution
// diagnostics and scores the overall model risk.
func (v *Validator) ValidateModel(ctx context.Context, input ModelInput) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input.ModelName == "" {
		return nil, types.NewValidationError("model_name", "must not be empty")
	}
	if len(input.VaRForecasts) == 0 {
		return nil, types.NewValidationError("var_forecasts", "must contain at least one confidence level")
	}

	report := &Report{
		ReportID:  uuid.NewString(),
		ModelName: input.ModelName,
		CreatedAt: time.Now().UTC(),
	}

	for confidence, forecasts := range input.VaRForecasts {
		backtest, err := Backtest(input.Returns, forecasts, confidence)
		if err != nil {
			return nil, fmt.Errorf("backtest at %.2f confidence: %w", confidence, err)
		}
		report.Backtests = append(report.Backtests, backtest)
	}
	sortBacktests(report.Backtests)

	lags := input.LjungBoxLags
	if lags < 1 {
		lags = 10
	}
	diagnostics := []func() (TestResult, error){
		func() (TestResult, error) { return JarqueBera(input.Returns) },
		func() (TestResult, error) { return KolmogorovSmirnov(input.Returns) },
		func() (TestResult, error) { return LjungBox(input.Returns, lags) },
		func() (TestResult, error) { return ARCHLM(input.Returns) },
	}
	for _, run := range diagnostics {
		result, err := run()
		if err != nil {
			return nil, err
		}
		report.Diagnostics = append(report.Diagnostics, result)
	}

	report.ComplianceIssues = v.complianceIssues(input, report)
	report.ModelRiskScore = scoreModelRisk(report)
	report.RiskRating = rateModelRisk(report.ModelRiskScore)
	report.Verdict = reportVerdict(report)
	report.Recommendations = recommend(report)

	v.recorder.ObserveValidation(string(report.Verdict))
	v.logger.Info("model validation complete",
		zap.String("report_id", report.ReportID),
		zap.String("model", report.ModelName),
		zap.Float64("model_risk_score", report.ModelRiskScore),
		zap.String("verdict", string(report.Verdict)),
	)
	return report, nil
}

func (v *Validator) complianceIssues(input ModelInput, report *Report) []string {
	var issues []string
	if len(input.Returns) < recommendedBacktestWindow {
		issues = append(issues, fmt.Sprintf(
			"backtest window of %d observations is below the recommended %d",
			len(input.Returns), recommendedBacktestWindow))
	}
	for _, b := range report.Backtests {
		if b.BaselZone != types.BaselZoneGreen {
			issues = append(issues, fmt.Sprintf(
				"%.0f%% VaR falls in the Basel %s zone with %d violations",
				b.Confidence*100, b.BaselZone, b.Violations))
		}
	}
	return issues
}

// scoreModelRisk weights failed tests, red Basel zones and compliance
// issues, capped at 100.
func scoreModelRisk(report *Report) float64 {
	failed := 0
	red := 0
	for _, b := range report.Backtests {
		if b.Verdict == types.VerdictFail {
			failed++
		}
		if b.BaselZone == types.BaselZoneRed {
			red++
		}
	}
	for _, d := range report.Diagnostics {
		if d.Verdict == types.VerdictFail {
			failed++
		}
	}

	score := float64(failed*failedTestWeight + red*redZoneWeight + len(report.ComplianceIssues)*complianceIssueWeight)
	if score > 100 {
		score = 100
	}
	return score
}

func rateModelRisk(score float64) types.RiskRating {
	switch {
	case score < 20:
		return types.RiskRatingLow
	case score < 50:
		return types.RiskRatingMedium
	case score < 80:
		return types.RiskRatingHigh
	default:
		return types.RiskRatingCritical
	}
}

func reportVerdict(report *Report) types.Verdict {
	for _, b := range report.Backtests {
		if b.Verdict == types.VerdictFail {
			return types.VerdictFail
		}
	}
	switch report.RiskRating {
	case types.RiskRatingHigh, types.RiskRatingCritical:
		return types.VerdictFail
	case types.RiskRatingMedium:
		return types.VerdictWarning
	}
	for _, b := range report.Backtests {
		if b.Verdict == types.VerdictWarning {
			return types.VerdictWarning
		}
	}
	return types.VerdictPass
}

func recommend(report *Report) []string {
	var recs []string
	for _, b := range report.Backtests {
		if b.Kupiec.Verdict == types.VerdictFail {
			recs = append(recs, fmt.Sprintf(
				"recalibrate the %.0f%% VaR model, observed coverage deviates from nominal", b.Confidence*100))
		}
		if b.Independence.Verdict == types.VerdictFail {
			recs = append(recs, fmt.Sprintf(
				"%.0f%% VaR violations cluster, consider a conditional volatility model", b.Confidence*100))
		}
	}
	for _, d := range report.Diagnostics {
		if d.Verdict != types.VerdictFail {
			continue
		}
		switch d.Name {
		case "jarque_bera", "kolmogorov_smirnov":
			recs = append(recs, "returns deviate from normality, prefer historical or Student-t VaR")
		case "ljung_box":
			recs = append(recs, "returns show serial correlation, review the independence assumption")
		case "arch_lm":
			recs = append(recs, "volatility clustering detected, consider EWMA or GARCH volatility")
		}
	}
	return dedupe(recs)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortBacktests(backtests []*BacktestResult) {
	sort.Slice(backtests, func(i, j int) bool {
		return backtests[i].Confidence < backtests[j].Confidence
	})
}
