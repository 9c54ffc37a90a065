package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyedge/internal/detector"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/metrics"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/reconcile"
	"github.com/rewired-gh/polyedge/internal/riskgate"
	"github.com/rewired-gh/polyedge/internal/strategy"
)

// Pipeline runs one market through reconciliation, detection, aggregation
// and the risk gate.
type Pipeline struct {
	reconciler *reconcile.Reconciler
	detectors  []detector.Detector
	aggregator *strategy.Aggregator
	gate       *riskgate.Gate
	metrics    *metrics.Recorder

	now   func() time.Time
	newID func() string
}

// NewPipeline wires the stages together. A nil reconciler means no probability
// service is configured; detectors then always see an absent judgment.
func NewPipeline(reconciler *reconcile.Reconciler, detectors []detector.Detector, aggregator *strategy.Aggregator, gate *riskgate.Gate, m *metrics.Recorder) *Pipeline {
	return &Pipeline{
		reconciler: reconciler,
		detectors:  detectors,
		aggregator: aggregator,
		gate:       gate,
		metrics:    m,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Suppressor reports whether an alert with action on marketID was sent
// recently enough that a repeat should be dropped.
type Suppressor func(marketID string, action models.Action) bool

// Analyze returns the approved opportunity for market, or nil when nothing
// survives. A candidate that suppress rejects is dropped before the risk
// service is consulted; suppress may be nil. The only error is a snapshot
// that fails validation.
func (p *Pipeline) Analyze(ctx context.Context, market models.MarketSnapshot, suppress Suppressor) (*models.Opportunity, error) {
	if err := market.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot %q: %w", market.ID, err)
	}
	p.metrics.MarketAnalyzed()

	evidence, judgment := p.judge(ctx, market)

	signals := detector.Run(p.detectors, market, evidence)
	if len(signals) == 0 {
		logger.Debug("No signals for %s", market.ID)
		return nil, nil
	}

	opp := p.aggregator.Aggregate(market, signals)
	if opp == nil {
		logger.Debug("Signals for %s scored below the floor", market.ID)
		return nil, nil
	}

	if suppress != nil && suppress(market.ID, opp.RecommendedAction) {
		p.metrics.Deduplicated()
		return nil, nil
	}

	decision := p.gate.Evaluate(ctx, *opp, market, judgment)
	if decision.FailedClosed {
		p.metrics.OracleFallback("risk")
	}
	if !decision.Approved {
		p.metrics.Veto(decision.FailedClosed)
		return nil, nil
	}

	risk := decision.Judgment
	opp.Risk = &risk
	opp.RecommendedSize = decision.Size
	opp.ID = p.newID()
	opp.CreatedAt = p.now()

	logger.Info("Opportunity %s on %s: %s score %d size %s (%d signals)",
		opp.ID, market.ID, opp.RecommendedAction, opp.OverallScore, opp.RecommendedSize, len(opp.Signals))
	p.metrics.Opportunity(string(opp.RecommendedAction))
	return opp, nil
}

// judge returns the judgment detectors may use and the judgment the risk
// service sees. The first is nil unless the assessment clears the trade bar;
// the second is nil only when there is no assessment at all.
func (p *Pipeline) judge(ctx context.Context, market models.MarketSnapshot) (evidence, judgment *models.ProbabilityJudgment) {
	if p.reconciler == nil {
		return nil, nil
	}
	res := p.reconciler.Reconcile(ctx, market)
	if !res.Ok() {
		p.metrics.OracleFallback("probability")
		return nil, nil
	}
	judgment = res.Judgment()
	if !p.reconciler.IsTradeWorthy(res.Assessment) {
		logger.Debug("Assessment for %s below trade bar (mispricing %.1f, tier %s)",
			market.ID, res.Assessment.Mispricing, res.Assessment.Tier)
		return nil, judgment
	}
	return judgment, judgment
}
