package riskgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rewired-gh/polyedge/internal/models"
)

type stubAssessor struct {
	judgment *models.RiskJudgment
	err      error
	delay    time.Duration
}

func (s stubAssessor) AssessRisk(ctx context.Context, _ models.Opportunity, _ models.MarketSnapshot, _ *models.ProbabilityJudgment) (*models.RiskJudgment, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.judgment, s.err
}

func candidate(size int64) models.Opportunity {
	return models.Opportunity{
		Market:            models.MarketSnapshot{ID: "m1", Question: "q"},
		OverallScore:      80,
		RecommendedAction: models.ActionBuyYes,
		RecommendedSize:   decimal.NewFromInt(size),
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		judgment     *models.RiskJudgment
		candidate    int64
		wantApproved bool
		wantSize     int64
	}{
		{
			name:         "approved and capped by suggestion",
			judgment:     &models.RiskJudgment{Recommendation: models.TierBuy, RiskScore: 3, SuggestedPositionSize: decimal.NewFromInt(40)},
			candidate:    75,
			wantApproved: true,
			wantSize:     40,
		},
		{
			name:         "capped by configured maximum",
			judgment:     &models.RiskJudgment{Recommendation: models.TierStrongBuy, RiskScore: 2, SuggestedPositionSize: decimal.NewFromInt(500)},
			candidate:    250,
			wantApproved: true,
			wantSize:     100,
		},
		{
			name:         "candidate already smallest",
			judgment:     &models.RiskJudgment{Recommendation: models.TierHold, RiskScore: 7, SuggestedPositionSize: decimal.NewFromInt(90)},
			candidate:    50,
			wantApproved: true,
			wantSize:     50,
		},
		{
			name:         "zero suggestion ignored",
			judgment:     &models.RiskJudgment{Recommendation: models.TierBuy, RiskScore: 4},
			candidate:    75,
			wantApproved: true,
			wantSize:     75,
		},
		{
			name:      "avoid vetoes",
			judgment:  &models.RiskJudgment{Recommendation: models.TierAvoid, RiskScore: 2, SuggestedPositionSize: decimal.NewFromInt(40)},
			candidate: 50,
		},
		{
			name:      "risk score eight vetoes",
			judgment:  &models.RiskJudgment{Recommendation: models.TierBuy, RiskScore: 8, SuggestedPositionSize: decimal.NewFromInt(40)},
			candidate: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(stubAssessor{judgment: tt.judgment}, DefaultConfig())
			d := g.Evaluate(context.Background(), candidate(tt.candidate), candidate(tt.candidate).Market, nil)
			assert.Equal(t, tt.wantApproved, d.Approved)
			assert.False(t, d.FailedClosed)
			if tt.wantApproved {
				assert.True(t, d.Size.Equal(decimal.NewFromInt(tt.wantSize)), "size %s", d.Size)
			} else {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestEvaluate_FailsClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond

	cases := map[string]stubAssessor{
		"error":        {err: errors.New("503 from risk service")},
		"timeout":      {judgment: &models.RiskJudgment{Recommendation: models.TierBuy, RiskScore: 1}, delay: time.Second},
		"nil judgment": {},
	}

	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			d := New(a, cfg).Evaluate(context.Background(), candidate(50), candidate(50).Market, nil)
			assert.False(t, d.Approved)
			assert.True(t, d.FailedClosed)
			assert.Equal(t, models.TierAvoid, d.Judgment.Recommendation)
			assert.Equal(t, 10, d.Judgment.RiskScore)
		})
	}
}
