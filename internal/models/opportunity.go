package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the trade an opportunity recommends.
type Action string

const (
	ActionBuyYes Action = "buy_yes"
	ActionBuyNo  Action = "buy_no"
	ActionPass   Action = "pass"
)

// Opportunity is the aggregated, risk-checked result for one market in one scan.
type Opportunity struct {
	ID                string
	Market            MarketSnapshot
	Signals           []Signal
	OverallScore      int
	RecommendedAction Action
	RecommendedSize   decimal.Decimal
	AnalysisText      string
	Risk              *RiskJudgment
	CreatedAt         time.Time
}

// SignalTypes lists the types of the signals that fired, in stored order.
func (o *Opportunity) SignalTypes() []SignalType {
	types := make([]SignalType, 0, len(o.Signals))
	for _, s := range o.Signals {
		types = append(types, s.Type)
	}
	return types
}

// Summary reduces the opportunity to what is persisted and alerted.
func (o *Opportunity) Summary() AlertSummary {
	s := AlertSummary{
		ID:              o.ID,
		MarketID:        o.Market.ID,
		Question:        o.Market.Question,
		URL:             o.Market.URL,
		YesProbability:  o.Market.YesProbability,
		NoProbability:   o.Market.NoProbability,
		Action:          o.RecommendedAction,
		OverallScore:    o.OverallScore,
		RecommendedSize: o.RecommendedSize,
		AnalysisText:    o.AnalysisText,
		SignalTypes:     o.SignalTypes(),
		CreatedAt:       o.CreatedAt,
	}
	if o.Risk != nil {
		s.RiskScore = o.Risk.RiskScore
		s.ExitStrategy = o.Risk.ExitStrategy
	}
	return s
}

// AlertSummary is the durable form of an opportunity waiting for, or past, delivery.
type AlertSummary struct {
	ID              string          `json:"id"`
	MarketID        string          `json:"market_id"`
	Question        string          `json:"question"`
	URL             string          `json:"url,omitempty"`
	YesProbability  float64         `json:"yes_probability"`
	NoProbability   float64         `json:"no_probability"`
	Action          Action          `json:"action"`
	OverallScore    int             `json:"overall_score"`
	RecommendedSize decimal.Decimal `json:"recommended_size"`
	AnalysisText    string          `json:"analysis_text"`
	SignalTypes     []SignalType    `json:"signal_types"`
	RiskScore       int             `json:"risk_score,omitempty"`
	ExitStrategy    string          `json:"exit_strategy,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Attempts        int             `json:"attempts"`
	Notified        bool            `json:"notified"`
}
