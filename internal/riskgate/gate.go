// Package riskgate is the last check before an opportunity is alerted. It
// consults the risk assessment service and fails closed: if the service cannot
// answer, the opportunity is vetoed.
package riskgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Assessor is the risk assessment service.
type Assessor interface {
	AssessRisk(ctx context.Context, opp models.Opportunity, market models.MarketSnapshot, judgment *models.ProbabilityJudgment) (*models.RiskJudgment, error)
}

// Config holds the size cap, veto level and service timeout.
type Config struct {
	MaxPositionSize decimal.Decimal
	VetoRiskScore   int
	Timeout         time.Duration
}

// DefaultConfig returns a gate capped at 100 that vetoes risk scores of 8 and up.
func DefaultConfig() Config {
	return Config{
		MaxPositionSize: decimal.NewFromInt(100),
		VetoRiskScore:   8,
		Timeout:         20 * time.Second,
	}
}

// Decision is the gate's verdict on one candidate.
type Decision struct {
	Approved     bool
	Size         decimal.Decimal
	Judgment     models.RiskJudgment
	Reason       string
	FailedClosed bool
}

// Gate vetoes or sizes candidates using the risk assessor.
type Gate struct {
	assessor Assessor
	config   Config
}

// New creates a Gate around assessor.
func New(assessor Assessor, config Config) *Gate {
	return &Gate{assessor: assessor, config: config}
}

var errEmptyJudgment = errors.New("assessor returned no judgment")

// FailClosed is the judgment used whenever the service cannot be trusted.
func FailClosed(cause error) models.RiskJudgment {
	reason := "risk assessment unavailable"
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	return models.RiskJudgment{
		Recommendation:        models.TierAvoid,
		RiskScore:             10,
		SuggestedPositionSize: decimal.Zero,
		Reasoning:             reason,
		Concerns:              []string{"risk service failure"},
	}
}

// Evaluate asks the service about one candidate and applies the veto rule:
// avoid or a risk score at or above the veto level drops the candidate;
// otherwise the size is capped by the suggestion and the configured maximum.
func (g *Gate) Evaluate(ctx context.Context, opp models.Opportunity, market models.MarketSnapshot, judgment *models.ProbabilityJudgment) Decision {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	rj, err := g.assessor.AssessRisk(ctx, opp, market, judgment)
	if err == nil && rj == nil {
		err = errEmptyJudgment
	}
	if err != nil {
		fc := FailClosed(err)
		logger.Warn("Risk assessment failed for %s, vetoing: %v", market.ID, err)
		return Decision{Judgment: fc, Reason: fc.Reasoning, FailedClosed: true}
	}

	if rj.Recommendation == models.TierAvoid {
		logger.Info("Risk gate vetoed %s: recommendation avoid (%s)", market.ID, rj.Reasoning)
		return Decision{Judgment: *rj, Reason: "recommendation avoid"}
	}
	if rj.RiskScore >= g.config.VetoRiskScore {
		logger.Info("Risk gate vetoed %s: risk score %d >= %d", market.ID, rj.RiskScore, g.config.VetoRiskScore)
		return Decision{Judgment: *rj, Reason: fmt.Sprintf("risk score %d", rj.RiskScore)}
	}

	size := decimal.Min(opp.RecommendedSize, g.config.MaxPositionSize)
	// A non-positive suggestion is read as "no opinion on size".
	if rj.SuggestedPositionSize.IsPositive() {
		size = decimal.Min(size, rj.SuggestedPositionSize)
	}

	return Decision{Approved: true, Size: size, Judgment: *rj}
}
