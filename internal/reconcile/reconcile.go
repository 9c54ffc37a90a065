// Package reconcile turns a probability assessment into mispricing, expected
// value and a recommendation tier. Assessment failures never escape as errors:
// they come back as a fallback result that callers read as "no evidence".
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Assessor is the probability assessment service.
type Assessor interface {
	AssessProbability(ctx context.Context, question string, yesProbability, noProbability float64) (*models.ProbabilityJudgment, error)
}

// Config holds the trade bar and the assessor timeout.
type Config struct {
	MinMispricing    float64
	MinConfidence    float64
	MinExpectedValue float64
	Timeout          time.Duration
}

// DefaultConfig returns the standard trade bar.
func DefaultConfig() Config {
	return Config{
		MinMispricing:    15,
		MinConfidence:    70,
		MinExpectedValue: 2,
		Timeout:          20 * time.Second,
	}
}

// Assessment is a judgment together with the quantities derived from it.
type Assessment struct {
	Judgment                models.ProbabilityJudgment
	MarketProbability       float64
	Mispricing              float64
	ExpectedValuePerHundred float64
	Tier                    models.Tier
	Side                    models.Lean
}

// Result is either an assessment or a fallback with its cause.
type Result struct {
	Assessment *Assessment
	Fallback   bool
	Cause      error
}

// Ok reports whether the result carries an assessment.
func (r Result) Ok() bool {
	return !r.Fallback && r.Assessment != nil
}

// Judgment returns the underlying judgment or nil on fallback.
func (r Result) Judgment() *models.ProbabilityJudgment {
	if !r.Ok() {
		return nil
	}
	return &r.Assessment.Judgment
}

// noSideThreshold is the overpricing at which the NO side is considered.
const noSideThreshold = 15.0

var errEmptyJudgment = errors.New("assessor returned no judgment")

// Reconciler wraps the probability assessor.
type Reconciler struct {
	assessor Assessor
	config   Config
}

// New creates a Reconciler around assessor.
func New(assessor Assessor, config Config) *Reconciler {
	return &Reconciler{assessor: assessor, config: config}
}

// Reconcile calls the assessor once for the market.
func (r *Reconciler) Reconcile(ctx context.Context, market models.MarketSnapshot) Result {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	judgment, err := r.assessor.AssessProbability(ctx, market.Question, market.YesProbability, market.NoProbability)
	if err == nil && judgment == nil {
		err = errEmptyJudgment
	}
	if err != nil {
		logger.Warn("Probability assessment unavailable for %s, continuing without it: %v", market.ID, err)
		return Result{Fallback: true, Cause: fmt.Errorf("assess %s: %w", market.ID, err)}
	}

	a := Evaluate(*judgment, market.YesProbability)
	logger.Debug("Assessed %s: true=%.1f market=%.1f mispricing=%.1f ev=%.2f tier=%s",
		market.ID, judgment.TrueProbability, market.YesProbability, a.Mispricing, a.ExpectedValuePerHundred, a.Tier)
	return Result{Assessment: &a}
}

// Evaluate derives mispricing, expected value per $100 and tier.
func Evaluate(j models.ProbabilityJudgment, yesProbability float64) Assessment {
	mispricing := j.TrueProbability - yesProbability
	ev := (j.TrueProbability/100)*100 - (yesProbability/100)*100
	tier, side := ClassifyTier(mispricing, j.Confidence)
	return Assessment{
		Judgment:                j,
		MarketProbability:       yesProbability,
		Mispricing:              mispricing,
		ExpectedValuePerHundred: ev,
		Tier:                    tier,
		Side:                    side,
	}
}

// ClassifyTier maps mispricing and confidence to a tier. Overpricing of at
// least the buy threshold is mirrored onto the NO side; smaller negative
// mispricing is always avoid.
func ClassifyTier(mispricing, confidence float64) (models.Tier, models.Lean) {
	side := models.LeanYes
	if mispricing < 0 {
		if mispricing > -noSideThreshold {
			return models.TierAvoid, models.LeanNone
		}
		side = models.LeanNo
	}
	m := math.Abs(mispricing)

	switch {
	case m >= 25 && confidence >= 80:
		return models.TierStrongBuy, side
	case m >= 15 && confidence >= 70:
		return models.TierBuy, side
	case m >= 10 && confidence >= 60:
		return models.TierHold, side
	default:
		return models.TierAvoid, models.LeanNone
	}
}

// IsTradeWorthy is the bar an assessment must clear before value and
// conviction detectors may use it. Expected value is read from the side the
// mispricing favours.
func (r *Reconciler) IsTradeWorthy(a *Assessment) bool {
	if a == nil {
		return false
	}
	ev := a.ExpectedValuePerHundred
	if a.Mispricing < 0 {
		ev = -ev
	}
	return math.Abs(a.Mispricing) >= r.config.MinMispricing &&
		a.Judgment.Confidence >= r.config.MinConfidence &&
		ev > r.config.MinExpectedValue
}
