package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polyedge/internal/models"
)

// ProbabilityClient implements the probability assessment service contract.
type ProbabilityClient struct {
	client *Client
}

func NewProbabilityClient(cfg Config) *ProbabilityClient {
	return &ProbabilityClient{client: NewClient("probability", cfg)}
}

type probabilityRequest struct {
	Question       string  `json:"question"`
	YesProbability float64 `json:"yes_probability"`
	NoProbability  float64 `json:"no_probability"`
}

func (p *ProbabilityClient) AssessProbability(ctx context.Context, question string, yesProbability, noProbability float64) (*models.ProbabilityJudgment, error) {
	var j models.ProbabilityJudgment
	req := probabilityRequest{Question: question, YesProbability: yesProbability, NoProbability: noProbability}
	if err := p.client.call(ctx, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// RiskClient implements the risk assessment service contract.
type RiskClient struct {
	client *Client
}

func NewRiskClient(cfg Config) *RiskClient {
	return &RiskClient{client: NewClient("risk", cfg)}
}

type riskRequest struct {
	Market      models.MarketSnapshot       `json:"market"`
	Opportunity opportunityPayload          `json:"opportunity"`
	Judgment    *models.ProbabilityJudgment `json:"judgment"`
}

type opportunityPayload struct {
	OverallScore      int             `json:"overall_score"`
	RecommendedAction models.Action   `json:"recommended_action"`
	RecommendedSize   decimal.Decimal `json:"recommended_size"`
	Signals           []models.Signal `json:"signals"`
	AnalysisText      string          `json:"analysis_text"`
}

func (r *RiskClient) AssessRisk(ctx context.Context, opp models.Opportunity, market models.MarketSnapshot, judgment *models.ProbabilityJudgment) (*models.RiskJudgment, error) {
	req := riskRequest{
		Market: market,
		Opportunity: opportunityPayload{
			OverallScore:      opp.OverallScore,
			RecommendedAction: opp.RecommendedAction,
			RecommendedSize:   opp.RecommendedSize,
			Signals:           opp.Signals,
			AnalysisText:      opp.AnalysisText,
		},
		Judgment: judgment,
	}

	var j models.RiskJudgment
	if err := r.client.call(ctx, req, &j); err != nil {
		return nil, err
	}
	if j.SuggestedPositionSize.IsNegative() {
		return nil, fmt.Errorf("risk: %w: negative suggested position size", ErrBadResponse)
	}
	return &j, nil
}
