// Package strategy folds the signals detected for one market into a single
// scored opportunity. Aggregation is a pure function of its inputs.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polyedge/internal/models"
)

// Weights per signal type. Arbitrage is the only model-free signal and is
// weighted highest; underdog is discounted for its long odds.
var Weights = map[models.SignalType]float64{
	models.SignalArbitrage:  1.5,
	models.SignalValue:      1.3,
	models.SignalConviction: 1.2,
	models.SignalMomentum:   1.0,
	models.SignalUnderdog:   0.7,
}

const (
	// WeakYesPrior is the share of confidence that signals without a lean add to
	// the YES side. It is a reviewable heuristic, not a derived quantity.
	WeakYesPrior = 0.5

	directionMargin     = 1.5
	boostConfidence     = 70.0
	maxSizeConfidence   = 80.0
	boostSizeMultiplier = 1.5
	defaultScoreFloor   = 50
	defaultBaseSize     = 50
	defaultMaxSize      = 100
)

// Config holds the sizing bounds and the score floor.
type Config struct {
	BasePositionSize decimal.Decimal
	MaxPositionSize  decimal.Decimal
	ScoreFloor       int
}

// DefaultConfig returns a base size of 50, a cap of 100 and a floor of 50.
func DefaultConfig() Config {
	return Config{
		BasePositionSize: decimal.NewFromInt(defaultBaseSize),
		MaxPositionSize:  decimal.NewFromInt(defaultMaxSize),
		ScoreFloor:       defaultScoreFloor,
	}
}

// Aggregator scores and sizes the signals of one market.
type Aggregator struct {
	config Config
}

// New creates an Aggregator.
func New(config Config) *Aggregator {
	return &Aggregator{config: config}
}

// Aggregate returns nil when there are no signals or the score is below the floor.
func (a *Aggregator) Aggregate(market models.MarketSnapshot, signals []models.Signal) *models.Opportunity {
	if len(signals) == 0 {
		return nil
	}

	score := Score(signals)
	if score < a.config.ScoreFloor {
		return nil
	}

	return &models.Opportunity{
		Market:            market,
		Signals:           append([]models.Signal(nil), signals...),
		OverallScore:      score,
		RecommendedAction: ResolveDirection(signals),
		RecommendedSize:   a.Size(signals),
		AnalysisText:      Analysis(signals),
	}
}

func weight(t models.SignalType) float64 {
	if w, ok := Weights[t]; ok {
		return w
	}
	return 1.0
}

// Score is the weighted mean confidence, rounded and clamped to [0,100].
func Score(signals []models.Signal) int {
	var num, den float64
	for _, s := range signals {
		w := weight(s.Type)
		num += s.Confidence * w
		den += w
	}
	if den == 0 {
		return 0
	}
	score := int(math.Round(num / den))
	return max(0, min(100, score))
}

// ResolveDirection picks a side only when it beats the other by a clear margin.
func ResolveDirection(signals []models.Signal) models.Action {
	var bullish, bearish float64
	for _, s := range signals {
		switch s.Type {
		case models.SignalArbitrage, models.SignalValue:
			switch s.Lean {
			case models.LeanYes:
				bullish += s.Confidence
			case models.LeanNo:
				bearish += s.Confidence
			}
		default:
			bullish += s.Confidence * WeakYesPrior
		}
	}

	switch {
	case bullish > bearish*directionMargin:
		return models.ActionBuyYes
	case bearish > bullish*directionMargin:
		return models.ActionBuyNo
	default:
		return models.ActionPass
	}
}

// Size scales the base size by the strongest signal present.
func (a *Aggregator) Size(signals []models.Signal) decimal.Decimal {
	var top float64
	for _, s := range signals {
		top = math.Max(top, s.Confidence)
	}

	size := a.config.BasePositionSize
	switch {
	case top >= maxSizeConfidence:
		size = a.config.MaxPositionSize
	case top >= boostConfidence:
		size = size.Mul(decimal.NewFromFloat(boostSizeMultiplier))
	}
	return decimal.Min(size, a.config.MaxPositionSize)
}

// Analysis lists every signal, strongest first. Operators read this text in
// the alert, so no signal may be left out.
func Analysis(signals []models.Signal) string {
	ordered := append([]models.Signal(nil), signals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	lines := make([]string, 0, len(ordered))
	for _, s := range ordered {
		lines = append(lines, fmt.Sprintf("[%s] confidence %.0f%%, expected return %.1f%%: %s",
			strings.ToUpper(string(s.Type)), s.Confidence, s.ExpectedReturnPercent, s.Reasoning))
	}
	return strings.Join(lines, "\n")
}
