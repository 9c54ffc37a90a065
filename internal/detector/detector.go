// Package detector holds the per-market signal detectors. Each detector is
// stateless: it looks at one snapshot, and optionally a probability judgment,
// and returns a signal or nil.
package detector

import (
	"fmt"
	"math"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

const (
	ArbitrageMinSpread  = 3.0
	ArbitrageConfidence = 90.0

	ValueMinDivergence    = 15.0
	ValueHighDivergence   = 25.0
	ValueMaxConfidence    = 95.0
	ValueReturnHaircut    = 0.8
	MomentumMinVolume     = 100000.0
	MomentumConfidence    = 65.0
	MomentumReturn        = 3.0
	ConvictionMinConf     = 85.0
	ConvictionReturn      = 5.0
	UnderdogLow           = 5.0
	UnderdogHigh          = 20.0
	UnderdogConfidence    = 40.0
	UnderdogReturnScaling = 10.0
)

// Detector inspects one market. A nil judgment means no oracle evidence is
// available; detectors that need it must decline rather than fail.
type Detector interface {
	Type() models.SignalType
	Detect(market models.MarketSnapshot, judgment *models.ProbabilityJudgment) *models.Signal
}

// Defaults returns the five standard detectors in a stable order.
func Defaults() []Detector {
	return []Detector{Arbitrage{}, Value{}, Momentum{}, Conviction{}, Underdog{}}
}

// Run applies every detector and collects the signals that fired.
func Run(detectors []Detector, market models.MarketSnapshot, judgment *models.ProbabilityJudgment) []models.Signal {
	var signals []models.Signal
	for _, d := range detectors {
		if s := d.Detect(market, judgment); s != nil {
			logger.Debug("%s signal on %s: %s", d.Type(), market.ID, s.Reasoning)
			signals = append(signals, *s)
		}
	}
	return signals
}

// Arbitrage fires when the YES and NO quotes fail to sum to 100.
type Arbitrage struct{}

func (Arbitrage) Type() models.SignalType { return models.SignalArbitrage }

func (Arbitrage) Detect(m models.MarketSnapshot, _ *models.ProbabilityJudgment) *models.Signal {
	spread := 100 - (m.YesProbability + m.NoProbability)
	gap := math.Abs(spread)
	if gap < ArbitrageMinSpread {
		return nil
	}

	// Both legs cheap or both rich: the cheaper leg carries the edge either way.
	lean := models.LeanNone
	switch {
	case m.YesProbability < m.NoProbability:
		lean = models.LeanYes
	case m.NoProbability < m.YesProbability:
		lean = models.LeanNo
	}

	kind := "underpriced"
	if spread < 0 {
		kind = "overpriced"
	}

	return &models.Signal{
		Type:                  models.SignalArbitrage,
		Confidence:            ArbitrageConfidence,
		ExpectedReturnPercent: gap,
		Reasoning: fmt.Sprintf("YES %.1f%% + NO %.1f%% = %.1f%%: book is %s by %.1f points",
			m.YesProbability, m.NoProbability, m.YesProbability+m.NoProbability, kind, gap),
		Urgency: models.UrgencyHigh,
		Lean:    lean,
	}
}

// Value fires when the oracle's probability diverges from the YES quote.
type Value struct{}

func (Value) Type() models.SignalType { return models.SignalValue }

func (Value) Detect(m models.MarketSnapshot, j *models.ProbabilityJudgment) *models.Signal {
	if j == nil {
		return nil
	}
	divergence := math.Abs(j.TrueProbability - m.YesProbability)
	if divergence < ValueMinDivergence {
		return nil
	}

	lean, verdict := models.LeanYes, "undervalued"
	if j.TrueProbability < m.YesProbability {
		lean, verdict = models.LeanNo, "overvalued"
	}

	urgency := models.UrgencyMedium
	if divergence > ValueHighDivergence {
		urgency = models.UrgencyHigh
	}

	return &models.Signal{
		Type:                  models.SignalValue,
		Confidence:            math.Min(ValueMaxConfidence, j.Confidence),
		ExpectedReturnPercent: divergence * ValueReturnHaircut,
		Reasoning: fmt.Sprintf("YES looks %s: market %.1f%% vs assessed %.1f%% (%.1f point divergence)",
			verdict, m.YesProbability, j.TrueProbability, divergence),
		Urgency: urgency,
		Lean:    lean,
	}
}

// Momentum is a coarse volume proxy; no price history is modelled.
type Momentum struct{}

func (Momentum) Type() models.SignalType { return models.SignalMomentum }

func (Momentum) Detect(m models.MarketSnapshot, _ *models.ProbabilityJudgment) *models.Signal {
	if m.Volume <= MomentumMinVolume {
		return nil
	}
	return &models.Signal{
		Type:                  models.SignalMomentum,
		Confidence:            MomentumConfidence,
		ExpectedReturnPercent: MomentumReturn,
		Reasoning:             fmt.Sprintf("heavy trading: volume %.0f above %.0f", m.Volume, MomentumMinVolume),
		Urgency:               models.UrgencyMedium,
	}
}

// Conviction fires when the oracle is very sure of its own assessment.
type Conviction struct{}

func (Conviction) Type() models.SignalType { return models.SignalConviction }

func (Conviction) Detect(m models.MarketSnapshot, j *models.ProbabilityJudgment) *models.Signal {
	if j == nil || j.Confidence < ConvictionMinConf {
		return nil
	}
	return &models.Signal{
		Type:                  models.SignalConviction,
		Confidence:            j.Confidence,
		ExpectedReturnPercent: ConvictionReturn,
		Reasoning: fmt.Sprintf("assessment confidence %.0f%% (assessed %.1f%% vs market %.1f%%)",
			j.Confidence, j.TrueProbability, m.YesProbability),
		Urgency: models.UrgencyHigh,
	}
}

// Underdog fires on long-shot quotes. The low confidence is fixed; long odds
// are discounted later through type weighting.
type Underdog struct{}

func (Underdog) Type() models.SignalType { return models.SignalUnderdog }

func (Underdog) Detect(m models.MarketSnapshot, _ *models.ProbabilityJudgment) *models.Signal {
	side, p := "", 0.0
	if isLongShot(m.YesProbability) {
		side, p = "YES", m.YesProbability
	}
	if isLongShot(m.NoProbability) && (side == "" || m.NoProbability < p) {
		side, p = "NO", m.NoProbability
	}
	if side == "" {
		return nil
	}

	return &models.Signal{
		Type:                  models.SignalUnderdog,
		Confidence:            UnderdogConfidence,
		ExpectedReturnPercent: ((100 - p) / p) * UnderdogReturnScaling,
		Reasoning:             fmt.Sprintf("%s priced as a long shot at %.1f%%", side, p),
		Urgency:               models.UrgencyLow,
	}
}

func isLongShot(p float64) bool {
	return p > UnderdogLow && p < UnderdogHigh
}
