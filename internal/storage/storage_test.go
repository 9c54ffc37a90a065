package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polyedge/internal/models"
)

func newTestStorage(t *testing.T, maxHistory int) *Storage {
	t.Helper()
	s, err := New(maxHistory, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSummary(id, marketID string, createdAt time.Time) *models.AlertSummary {
	return &models.AlertSummary{
		ID:              id,
		MarketID:        marketID,
		Question:        "Will X happen?",
		URL:             "https://polymarket.com/event/x",
		YesProbability:  47,
		NoProbability:   48,
		Action:          models.ActionBuyYes,
		OverallScore:    80,
		RecommendedSize: decimal.RequireFromString("62.5"),
		AnalysisText:    "[ARBITRAGE] confidence 90%",
		SignalTypes:     []models.SignalType{models.SignalArbitrage, models.SignalMomentum},
		RiskScore:       3,
		CreatedAt:       createdAt,
	}
}

func TestStorage_RecordAndLastForMarket(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()

	require.NoError(t, s.RecordOpportunity(testSummary("a", "m1", now.Add(-time.Hour))))
	require.NoError(t, s.RecordOpportunity(testSummary("b", "m1", now)))
	require.NoError(t, s.RecordOpportunity(testSummary("c", "m2", now)))

	got, err := s.LastForMarket("m1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, models.ActionBuyYes, got.Action)
	assert.True(t, got.RecommendedSize.Equal(decimal.RequireFromString("62.5")))
	assert.Equal(t, []models.SignalType{models.SignalArbitrage, models.SignalMomentum}, got.SignalTypes)
	assert.Equal(t, now.UnixNano(), got.CreatedAt.UnixNano())
	assert.False(t, got.Notified)
}

func TestStorage_LastForMarket_NotFound(t *testing.T) {
	s := newTestStorage(t, 100)
	_, err := s.LastForMarket("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_RecordRejectsMissingIDs(t *testing.T) {
	s := newTestStorage(t, 100)
	assert.Error(t, s.RecordOpportunity(testSummary("", "m1", time.Now())))
	assert.Error(t, s.RecordOpportunity(testSummary("a", "", time.Now())))
}

func TestStorage_MarkNotified(t *testing.T) {
	s := newTestStorage(t, 100)
	require.NoError(t, s.RecordOpportunity(testSummary("a", "m1", time.Now())))

	require.NoError(t, s.MarkNotified("a", time.Now()))
	got, err := s.LastForMarket("m1")
	require.NoError(t, err)
	assert.True(t, got.Notified)

	assert.ErrorIs(t, s.MarkNotified("missing", time.Now()), ErrNotFound)
}

func TestStorage_RecentAndRotate(t *testing.T) {
	s := newTestStorage(t, 5)
	now := time.Now()
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("opp-%d", i)
		require.NoError(t, s.RecordOpportunity(testSummary(id, fmt.Sprintf("m-%d", i), now.Add(time.Duration(i)*time.Second))))
	}

	require.NoError(t, s.Rotate())

	recent, err := s.Recent(100)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "opp-9", recent[0].ID)
	assert.Equal(t, "opp-5", recent[4].ID)
}

func TestStorage_RecentEmpty(t *testing.T) {
	s := newTestStorage(t, 5)
	recent, err := s.Recent(10)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}
