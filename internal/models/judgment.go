package models

import "github.com/shopspring/decimal"

// Tier is a recommendation strength shared by reconciliation and risk assessment.
type Tier string

const (
	TierStrongBuy Tier = "strong_buy"
	TierBuy       Tier = "buy"
	TierHold      Tier = "hold"
	TierAvoid     Tier = "avoid"
)

// ProbabilityJudgment is what the probability assessment service returns.
type ProbabilityJudgment struct {
	TrueProbability float64  `json:"true_probability" validate:"gte=0,lte=100"`
	Confidence      float64  `json:"confidence" validate:"gte=0,lte=100"`
	Reasoning       string   `json:"reasoning" validate:"required"`
	KeyFactors      []string `json:"key_factors"`
	RecentEvents    []string `json:"recent_events,omitempty"`
}

// RiskJudgment is what the risk assessment service returns.
type RiskJudgment struct {
	Recommendation        Tier            `json:"recommendation" validate:"required,oneof=strong_buy buy hold avoid"`
	RiskScore             int             `json:"risk_score" validate:"gte=1,lte=10"`
	ArbitrageValid        bool            `json:"arbitrage_valid"`
	SuggestedPositionSize decimal.Decimal `json:"suggested_position_size"`
	Reasoning             string          `json:"reasoning"`
	ExitStrategy          string          `json:"exit_strategy"`
	Concerns              []string        `json:"concerns"`
}
