package models

// SignalType names the detector that produced a signal.
type SignalType string

const (
	SignalArbitrage  SignalType = "arbitrage"
	SignalValue      SignalType = "value"
	SignalMomentum   SignalType = "momentum"
	SignalConviction SignalType = "conviction"
	SignalUnderdog   SignalType = "underdog"
)

// Urgency ranks how quickly an operator should look at a signal.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Lean is the market side a signal argues for, if any.
type Lean string

const (
	LeanNone Lean = ""
	LeanYes  Lean = "yes"
	LeanNo   Lean = "no"
)

// Signal is the output of a single detector for a single market.
type Signal struct {
	Type                  SignalType `json:"type"`
	Confidence            float64    `json:"confidence"`
	ExpectedReturnPercent float64    `json:"expected_return_percent"`
	Reasoning             string     `json:"reasoning"`
	Urgency               Urgency    `json:"urgency"`
	Lean                  Lean       `json:"lean,omitempty"`
}
