package fair

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// ControlType classifies a mitigating control.
type ControlType string

const (
	ControlPreventive ControlType = "preventive"
	ControlDetective  ControlType = "detective"
	ControlCorrective ControlType = "corrective"
)

// Control is one mitigating control with its quality factors, all in
// [0, 1] except the degradation rate which is an annual decay fraction.
type Control struct {
	Type                  ControlType `json:"type"`
	Effectiveness         float64     `json:"effectiveness"`
	ImplementationQuality float64     `json:"implementation_quality"`
	DegradationRate       float64     `json:"degradation_rate"`
	Confidence            float64     `json:"confidence"`
}

// effectiveStrength is the control's effectiveness after quality,
// one-year degradation and confidence adjustments.
func (c Control) effectiveStrength() float64 {
	strength := c.Effectiveness * c.ImplementationQuality
	if c.DegradationRate > 0 {
		strength *= 1 - c.DegradationRate
	}
	return strength * c.Confidence
}

func (c Control) validate(idx int) error {
	for name, v := range map[string]float64{
		"effectiveness":          c.Effectiveness,
		"implementation_quality": c.ImplementationQuality,
		"degradation_rate":       c.DegradationRate,
		"confidence":             c.Confidence,
	} {
		if v < 0 || v > 1 {
			return types.NewValidationError(fmt.Sprintf("controls[%d].%s", idx, name),
				"must be in [0, 1], got %v", v)
		}
	}
	return nil
}

// LossModel describes a loss magnitude simulated by GBM and clipped to
// monetary bounds.
type LossModel struct {
	Simulation simulation.Parameters `json:"simulation"`
	MinLoss    float64               `json:"min_loss"`
	MaxLoss    float64               `json:"max_loss"`
}

func (l LossModel) validate(field string) error {
	if err := l.Simulation.Validate(); err != nil {
		return err
	}
	if l.MinLoss < 0 || l.MaxLoss <= 0 || l.MinLoss > l.MaxLoss {
		return types.NewValidationError(field,
			"loss bounds [%v, %v] are invalid", l.MinLoss, l.MaxLoss)
	}
	return nil
}

// Parameters define a FAIR analysis.
type Parameters struct {
	ThreatType               string     `json:"threat_type"`
	Frequency                Frequency  `json:"frequency"`
	PrimaryLoss              LossModel  `json:"primary_loss"`
	SecondaryLoss            *LossModel `json:"secondary_loss,omitempty"`
	Controls                 []Control  `json:"controls,omitempty"`
	ThreatCapability         float64    `json:"threat_capability"`
	OrganizationalResilience float64    `json:"organizational_resilience"`
}

// Validate checks the analysis parameters.
func (p Parameters) Validate() error {
	if err := p.Frequency.Validate(); err != nil {
		return err
	}
	if err := p.PrimaryLoss.validate("primary_loss"); err != nil {
		return err
	}
	if p.SecondaryLoss != nil {
		if err := p.SecondaryLoss.validate("secondary_loss"); err != nil {
			return err
		}
	}
	for i, c := range p.Controls {
		if err := c.validate(i); err != nil {
			return err
		}
	}
	if p.ThreatCapability < 0 || p.ThreatCapability > 1 {
		return types.NewValidationError("threat_capability", "must be in [0, 1], got %v", p.ThreatCapability)
	}
	if p.OrganizationalResilience < 0 || p.OrganizationalResilience > 1 {
		return types.NewValidationError("organizational_resilience", "must be in [0, 1], got %v", p.OrganizationalResilience)
	}
	return nil
}

// ThreatEventModel captures how controls and capability adjust the base
// frequency.
type ThreatEventModel struct {
	BaseFrequency          float64 `json:"base_frequency"`
	AdjustedFrequency      float64 `json:"adjusted_frequency"`
	ControlEffectiveness   float64 `json:"control_effectiveness"`
	Vulnerability          float64 `json:"vulnerability"`
	ThreatCapabilityFactor float64 `json:"threat_capability_factor"`
	VulnerabilityFactor    float64 `json:"vulnerability_factor"`
	ControlFactor          float64 `json:"control_factor"`
}

// ExceedancePoint is one point of the loss exceedance curve.
type ExceedancePoint struct {
	ExceedanceProbability float64 `json:"exceedance_probability"`
	Loss                  float64 `json:"loss"`
}

// Result is a completed FAIR analysis.
type Result struct {
	AnalysisID string           `json:"analysis_id"`
	ThreatType string           `json:"threat_type"`
	Model      ThreatEventModel `json:"threat_event_model"`

	MeanALE            float64    `json:"annual_loss_expectancy"`
	MedianALE          float64    `json:"median_ale"`
	VaR95              float64    `json:"var_95"`
	VaR99              float64    `json:"var_99"`
	ExpectedShortfall  float64    `json:"expected_shortfall"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`

	ExceedanceCurve          []ExceedancePoint `json:"loss_exceedance_curve"`
	PrimaryContributionPct   float64           `json:"primary_loss_contribution_pct"`
	SecondaryContributionPct float64           `json:"secondary_loss_contribution_pct"`

	RiskRating      types.RiskRating `json:"risk_rating"`
	RiskScore       float64          `json:"risk_score"`
	Recommendations []string         `json:"recommendations,omitempty"`

	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Engine runs FAIR analyses.
type Engine struct {
	logger    *zap.Logger
	simulator *simulation.Simulator
	config    types.FAIRConfig
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger, simulator *simulation.Simulator, config types.FAIRConfig) *Engine {
	if config.Iterations < 1 {
		config.Iterations = 10_000
	}
	if config.Thresholds.High.IsZero() {
		config.Thresholds = types.DefaultRiskThresholds()
	}
	return &Engine{logger: logger, simulator: simulator, config: config}
}

// exceedancePercentiles drive the loss exceedance curve.
var exceedancePercentiles = []float64{99.9, 99.5, 99, 95, 90, 75, 50, 25, 10, 5, 1, 0.1}

// Analyze runs the full FAIR quantification.
func (e *Engine) Analyze(ctx context.Context, params Parameters) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	model := e.buildThreatModel(params)

	e.logger.Info("starting FAIR analysis",
		zap.String("threat_type", params.ThreatType),
		zap.Int("iterations", e.config.Iterations),
		zap.Float64("adjusted_frequency", model.AdjustedFrequency),
	)

	// Frequency stream is seeded independently of the loss simulations
	// so both are reproducible for a given loss-model seed.
	freqSrc := rand.NewPCG(params.PrimaryLoss.Simulation.Seed, math.MaxUint64)
	frequencies, err := params.Frequency.Sample(e.config.Iterations, freqSrc)
	if err != nil {
		return nil, err
	}
	scale := 1.0
	if params.Frequency.MostLikely > 0 {
		scale = model.AdjustedFrequency / params.Frequency.MostLikely
	}

	primary, err := e.simulateLosses(ctx, params.PrimaryLoss)
	if err != nil {
		return nil, err
	}
	var secondary []float64
	if params.SecondaryLoss != nil {
		if secondary, err = e.simulateLosses(ctx, *params.SecondaryLoss); err != nil {
			return nil, err
		}
	}

	ale := make([]float64, e.config.Iterations)
	var primarySum, secondarySum float64
	for i := range ale {
		total := primary[i]
		primarySum += primary[i]
		if secondary != nil {
			total += secondary[i]
			secondarySum += secondary[i]
		}
		ale[i] = frequencies[i] * scale * total
	}

	result := &Result{
		AnalysisID: uuid.NewString(),
		ThreatType: params.ThreatType,
		Model:      model,
		Iterations: e.config.Iterations,
	}

	sorted := make([]float64, len(ale))
	copy(sorted, ale)
	sort.Float64s(sorted)

	result.MeanALE = mean(ale)
	result.MedianALE = percentileSorted(sorted, 50)
	result.VaR95 = percentileSorted(sorted, 95)
	result.VaR99 = percentileSorted(sorted, 99)
	result.ConfidenceInterval = [2]float64{percentileSorted(sorted, 5), result.VaR95}
	result.ExpectedShortfall = tailMean(sorted, result.VaR95)
	result.ExceedanceCurve = exceedanceCurve(sorted)

	if total := primarySum + secondarySum; total > 0 {
		result.PrimaryContributionPct = primarySum / total * 100
		result.SecondaryContributionPct = secondarySum / total * 100
	}

	result.RiskRating, result.RiskScore = e.rate(result.MeanALE, result.VaR99)
	result.Recommendations = e.recommend(model, result)
	result.Elapsed = time.Since(start)

	e.logger.Info("FAIR analysis complete",
		zap.String("analysis_id", result.AnalysisID),
		zap.Float64("ale", result.MeanALE),
		zap.String("risk_rating", string(result.RiskRating)),
	)
	return result, nil
}

// Comparison relates alternative scenarios to a base scenario.
type Comparison struct {
	Base          *Result                  `json:"base"`
	Alternatives  map[string]*Result       `json:"alternatives"`
	RiskReduction map[string]RiskReduction `json:"risk_reduction"`
}

// RiskReduction is the ALE movement of one alternative against the base.
type RiskReduction struct {
	AbsoluteReduction   float64 `json:"absolute_reduction"`
	PercentageReduction float64 `json:"percentage_reduction"`
	ResidualRisk        float64 `json:"residual_risk"`
}

// CompareScenarios analyzes the base and each alternative, reporting the
// risk reduction each alternative achieves.
func (e *Engine) CompareScenarios(ctx context.Context, base Parameters, alternatives map[string]Parameters) (*Comparison, error) {
	baseResult, err := e.Analyze(ctx, base)
	if err != nil {
		return nil, err
	}

	comparison := &Comparison{
		Base:          baseResult,
		Alternatives:  make(map[string]*Result, len(alternatives)),
		RiskReduction: make(map[string]RiskReduction, len(alternatives)),
	}
	for name, alt := range alternatives {
		result, err := e.Analyze(ctx, alt)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		comparison.Alternatives[name] = result

		reduction := baseResult.MeanALE - result.MeanALE
		pct := 0.0
		if baseResult.MeanALE > 0 {
			pct = reduction / baseResult.MeanALE * 100
		}
		comparison.RiskReduction[name] = RiskReduction{
			AbsoluteReduction:   reduction,
			PercentageReduction: pct,
			ResidualRisk:        result.MeanALE,
		}
	}
	return comparison, nil
}

// CombinedControlEffectiveness merges independent controls through their
// joint failure rate, capped at 0.99.
func CombinedControlEffectiveness(controls []Control) float64 {
	if len(controls) == 0 {
		return 0
	}
	failure := 1.0
	for _, c := range controls {
		failure *= 1 - c.effectiveStrength()
	}
	return math.Min(1-failure, 0.99)
}

// VulnerabilityScore relates threat capability to resilience after
// controls, normalized to [0, 1].
func VulnerabilityScore(threatCapability, resilience, controlEffectiveness float64) float64 {
	base := threatCapability / (resilience + 0.1)
	return math.Min(base*(1-controlEffectiveness)/2, 1)
}

func (e *Engine) buildThreatModel(params Parameters) ThreatEventModel {
	controlEff := CombinedControlEffectiveness(params.Controls)
	vulnerability := VulnerabilityScore(params.ThreatCapability, params.OrganizationalResilience, controlEff)

	model := ThreatEventModel{
		BaseFrequency:          params.Frequency.MostLikely,
		ControlEffectiveness:   controlEff,
		Vulnerability:          vulnerability,
		ThreatCapabilityFactor: 0.5 + params.ThreatCapability,
		VulnerabilityFactor:    0.5 + vulnerability,
		ControlFactor:          0.1 + (1 - controlEff),
	}
	model.AdjustedFrequency = model.BaseFrequency *
		model.ThreatCapabilityFactor * model.VulnerabilityFactor * model.ControlFactor
	return model
}

// simulateLosses draws loss magnitudes from GBM terminal values clipped
// to the model's monetary bounds.
func (e *Engine) simulateLosses(ctx context.Context, model LossModel) ([]float64, error) {
	params := model.Simulation
	params.Paths = e.config.Iterations

	result, err := e.simulator.Run(ctx, params)
	if err != nil {
		return nil, err
	}

	losses := make([]float64, len(result.Stats.TerminalValues))
	for i, v := range result.Stats.TerminalValues {
		losses[i] = math.Min(math.Max(v, model.MinLoss), model.MaxLoss)
	}
	return losses, nil
}

// rate scores max(ALE, VaR99) against the monetary thresholds.
func (e *Engine) rate(ale, var99 float64) (types.RiskRating, float64) {
	value := math.Max(ale, var99)
	exposure := decimal.NewFromFloat(value)
	rating := e.config.Thresholds.Rate(exposure)

	medium, _ := e.config.Thresholds.Low.Float64()
	high, _ := e.config.Thresholds.Medium.Float64()
	critical, _ := e.config.Thresholds.High.Float64()

	var score float64
	switch rating {
	case types.RiskRatingCritical:
		score = math.Min(10, 7+3*value/critical)
	case types.RiskRatingHigh:
		score = math.Min(7, 5+2*value/high)
	case types.RiskRatingMedium:
		score = math.Min(5, 3+2*value/medium)
	default:
		score = math.Min(3, 1+2*value/medium)
	}
	return rating, score
}

func (e *Engine) recommend(model ThreatEventModel, result *Result) []string {
	var recs []string
	if model.ControlEffectiveness < 0.5 {
		recs = append(recs, "strengthen the control environment; combined effectiveness is below 50%")
	}
	if result.SecondaryContributionPct > 40 {
		recs = append(recs, "secondary losses dominate; invest in response and reputation management")
	}
	if result.RiskRating == types.RiskRatingHigh || result.RiskRating == types.RiskRatingCritical {
		recs = append(recs, "exposure exceeds appetite thresholds; escalate for treatment or transfer")
	}
	if model.Vulnerability > 0.7 {
		recs = append(recs, "vulnerability is elevated relative to organizational resilience")
	}
	return recs
}

// exceedanceCurve maps the standard percentile grid onto the sorted ALE
// samples. Exceedance probabilities decrease as losses grow.
func exceedanceCurve(sorted []float64) []ExceedancePoint {
	curve := make([]ExceedancePoint, len(exceedancePercentiles))
	for i, p := range exceedancePercentiles {
		curve[i] = ExceedancePoint{
			ExceedanceProbability: (100 - p) / 100,
			Loss:                  percentileSorted(sorted, p),
		}
	}
	sort.Slice(curve, func(a, b int) bool {
		return curve[a].ExceedanceProbability < curve[b].ExceedanceProbability
	})
	return curve
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// tailMean averages the samples at or beyond the threshold.
func tailMean(sorted []float64, threshold float64) float64 {
	idx := sort.SearchFloat64s(sorted, threshold)
	if idx >= len(sorted) {
		return threshold
	}
	return mean(sorted[idx:])
}

// percentileSorted interpolates the p-th percentile of a sorted sample.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
