package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polyedge/internal/detector"
	"github.com/rewired-gh/polyedge/internal/metrics"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/reconcile"
	"github.com/rewired-gh/polyedge/internal/riskgate"
	"github.com/rewired-gh/polyedge/internal/strategy"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu      sync.Mutex
	batches [][]models.MarketSnapshot
	errs    []error
	calls   int
}

func (f *fakeSource) ListActiveMarkets(_ context.Context, maxCount int) ([]models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	markets := f.batches[i]
	if len(markets) > maxCount {
		markets = markets[:maxCount]
	}
	return markets, nil
}

type probabilityFunc func(ctx context.Context, question string) (*models.ProbabilityJudgment, error)

func (f probabilityFunc) AssessProbability(ctx context.Context, question string, _, _ float64) (*models.ProbabilityJudgment, error) {
	return f(ctx, question)
}

type riskStub struct {
	judgment *models.RiskJudgment
	err      error
	calls    atomic.Int32
	received atomic.Pointer[models.ProbabilityJudgment]
}

func (r *riskStub) AssessRisk(_ context.Context, _ models.Opportunity, _ models.MarketSnapshot, probability *models.ProbabilityJudgment) (*models.RiskJudgment, error) {
	r.calls.Add(1)
	r.received.Store(probability)
	if r.err != nil {
		return nil, r.err
	}
	j := *r.judgment
	return &j, nil
}

type fakeStore struct {
	mu       sync.Mutex
	initial  *models.ScanState
	saved    []*models.ScanState
	saveErrs []error
	attempts int
}

func (f *fakeStore) Load() (*models.ScanState, error) {
	if f.initial != nil {
		return f.initial.Clone(), nil
	}
	return models.NewScanState(), nil
}

func (f *fakeStore) Save(state *models.ScanState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.attempts
	f.attempts++
	if i < len(f.saveErrs) && f.saveErrs[i] != nil {
		return f.saveErrs[i]
	}
	f.saved = append(f.saved, state.Clone())
	return nil
}

func (f *fakeStore) last() *models.ScanState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeDispatcher) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeDispatcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDispatcher) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeHistory struct {
	mu       sync.Mutex
	records  []models.AlertSummary
	notified map[string]bool
	rotated  int
}

func (f *fakeHistory) RecordOpportunity(o *models.AlertSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *o)
	return nil
}

func (f *fakeHistory) MarkNotified(id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notified == nil {
		f.notified = map[string]bool{}
	}
	f.notified[id] = true
	return nil
}

func (f *fakeHistory) LastForMarket(marketID string) (*models.AlertSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].MarketID == marketID {
			r := f.records[i]
			return &r, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeHistory) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotated++
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func arbitrageMarket(id string) models.MarketSnapshot {
	return models.MarketSnapshot{
		ID:             id,
		Question:       "Will " + id + " happen?",
		YesProbability: 47,
		NoProbability:  48,
		Volume:         150000,
	}
}

func quietMarket(id string) models.MarketSnapshot {
	return models.MarketSnapshot{
		ID:             id,
		Question:       "Will " + id + " happen?",
		YesProbability: 50,
		NoProbability:  50,
		Volume:         1000,
	}
}

func approvingRisk() *riskStub {
	return &riskStub{judgment: &models.RiskJudgment{
		Recommendation:        models.TierBuy,
		RiskScore:             3,
		SuggestedPositionSize: decimal.NewFromInt(40),
		ExitStrategy:          "take profit at 60%",
	}}
}

var errProbabilityDown = errors.New("probability service down")

func failingProbability() probabilityFunc {
	return func(context.Context, string) (*models.ProbabilityJudgment, error) {
		return nil, errProbabilityDown
	}
}

type testEnv struct {
	source     *fakeSource
	store      *fakeStore
	dispatcher *fakeDispatcher
	history    *fakeHistory
	risk       *riskStub
	scheduler  *Scheduler
}

func newTestEnv(t *testing.T, source *fakeSource, prob reconcile.Assessor, risk *riskStub, opts ...func(*Config, *Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		source:     source,
		store:      &fakeStore{},
		dispatcher: &fakeDispatcher{},
		risk:       risk,
	}

	rec := metrics.New(prometheus.NewRegistry())
	var reconciler *reconcile.Reconciler
	if prob != nil {
		reconciler = reconcile.New(prob, reconcile.DefaultConfig())
	}
	pipeline := NewPipeline(
		reconciler,
		detector.Defaults(),
		strategy.New(strategy.DefaultConfig()),
		riskgate.New(risk, riskgate.DefaultConfig()),
		rec,
	)

	cfg := DefaultConfig()
	deps := Deps{
		Source:     source,
		Pipeline:   pipeline,
		Store:      env.store,
		Dispatcher: env.dispatcher,
		Formatter:  TextFormatter{},
		Metrics:    rec,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	if h, ok := deps.History.(*fakeHistory); ok {
		env.history = h
	}
	if st, ok := deps.Store.(*fakeStore); ok {
		env.store = st
	}

	s, err := NewScheduler(cfg, deps)
	require.NoError(t, err)
	env.scheduler = s
	return env
}

func withHistory(h *fakeHistory) func(*Config, *Deps) {
	return func(_ *Config, d *Deps) { d.History = h }
}

func withStore(st *fakeStore) func(*Config, *Deps) {
	return func(_ *Config, d *Deps) { d.Store = st }
}

func scanOnce(t *testing.T, s *Scheduler) error {
	t.Helper()
	ran, err := s.TryScan(context.Background())
	require.True(t, ran)
	return err
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestScan_ArbitrageSurvivesProbabilityOutage(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1")}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk())

	require.NoError(t, scanOnce(t, env.scheduler))

	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "BUY_YES Will m1 happen?")
	assert.Contains(t, msgs[0], "[ARBITRAGE]")
	assert.Contains(t, msgs[0], "size 40.00")

	state := env.scheduler.State()
	assert.EqualValues(t, 1, state.AlertsGenerated)
	assert.EqualValues(t, 0, state.TradesExecuted)
	assert.Empty(t, state.PendingAlerts)
	assert.False(t, state.LastScan.IsZero())
	assert.False(t, state.Running)

	saved := env.store.last()
	require.NotNil(t, saved)
	assert.EqualValues(t, 1, saved.AlertsGenerated)
	assert.EqualValues(t, 1, saved.ScansCompleted)
}

func TestScan_RiskOutageBlocksEveryAlert(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1"), arbitrageMarket("m2")}}}
	risk := &riskStub{err: errors.New("risk service timeout")}
	env := newTestEnv(t, source, failingProbability(), risk)

	require.NoError(t, scanOnce(t, env.scheduler))

	assert.EqualValues(t, 2, risk.calls.Load())
	assert.Empty(t, env.dispatcher.messages())
	state := env.scheduler.State()
	assert.Zero(t, state.AlertsGenerated)
	assert.Empty(t, state.PendingAlerts)
	assert.EqualValues(t, 1, state.ScansCompleted)
}

func TestScan_RiskNotConsultedWithoutCandidate(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{quietMarket("m1")}}}
	risk := approvingRisk()
	env := newTestEnv(t, source, failingProbability(), risk)

	require.NoError(t, scanOnce(t, env.scheduler))

	assert.Zero(t, risk.calls.Load())
	assert.Empty(t, env.dispatcher.messages())
}

func TestScan_ValueSignalFromTradeWorthyJudgment(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{quietMarket("m1")}}}
	prob := probabilityFunc(func(context.Context, string) (*models.ProbabilityJudgment, error) {
		return &models.ProbabilityJudgment{TrueProbability: 70, Confidence: 80, Reasoning: "polling lead"}, nil
	})
	env := newTestEnv(t, source, prob, approvingRisk())

	require.NoError(t, scanOnce(t, env.scheduler))

	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "BUY_YES")
	assert.Contains(t, msgs[0], "[VALUE]")
	assert.Contains(t, msgs[0], "expected return 16.0%")
}

func TestScan_JudgmentBelowTradeBarIsIgnored(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{quietMarket("m1")}}}
	// 62 vs 50 is a 12 point edge, below the 15 point bar.
	prob := probabilityFunc(func(context.Context, string) (*models.ProbabilityJudgment, error) {
		return &models.ProbabilityJudgment{TrueProbability: 62, Confidence: 90, Reasoning: "slight lean"}, nil
	})
	risk := approvingRisk()
	env := newTestEnv(t, source, prob, risk)

	require.NoError(t, scanOnce(t, env.scheduler))

	assert.Zero(t, risk.calls.Load())
	assert.Empty(t, env.dispatcher.messages())
}

func TestTryScan_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	source := blockingSource(func() {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
	})
	env := newTestEnv(t, &fakeSource{}, failingProbability(), approvingRisk(), func(_ *Config, d *Deps) {
		d.Source = source
	})
	s := env.scheduler

	require.True(t, s.TriggerAsync(context.Background()))
	<-started
	assert.True(t, s.Scanning())
	before := s.State()

	ran, err := s.TryScan(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.False(t, s.TriggerAsync(context.Background()))
	assert.Same(t, before, s.State(), "a dropped trigger must not touch the state")

	close(release)
	s.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, s.Scanning())
	assert.EqualValues(t, 1, s.State().ScansCompleted)
	assert.Zero(t, before.ScansCompleted)
}

type blockingSource func()

func (b blockingSource) ListActiveMarkets(context.Context, int) ([]models.MarketSnapshot, error) {
	b()
	return nil, nil
}

func TestScan_DispatchFailureKeepsQueueAndState(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{
		{arbitrageMarket("m1"), quietMarket("m2"), arbitrageMarket("m3")},
		{},
	}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk())
	env.dispatcher.setErr(errors.New("telegram unreachable"))

	require.NoError(t, scanOnce(t, env.scheduler))

	state := env.scheduler.State()
	assert.EqualValues(t, 2, state.AlertsGenerated)
	require.Len(t, state.PendingAlerts, 2)
	assert.Equal(t, "m1", state.PendingAlerts[0].MarketID)
	assert.Equal(t, "m3", state.PendingAlerts[1].MarketID)
	assert.Equal(t, 1, state.PendingAlerts[0].Attempts)
	assert.False(t, state.LastScan.IsZero())

	saved := env.store.last()
	require.NotNil(t, saved)
	assert.Len(t, saved.PendingAlerts, 2)

	env.dispatcher.setErr(nil)
	require.NoError(t, scanOnce(t, env.scheduler))

	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Will m1 happen?")
	assert.Contains(t, msgs[1], "Will m3 happen?")
	assert.Empty(t, env.scheduler.State().PendingAlerts)
	assert.Empty(t, env.store.last().PendingAlerts)
	assert.EqualValues(t, 2, env.scheduler.State().AlertsGenerated)
}

func TestScan_PendingQueueIsBounded(t *testing.T) {
	var batch []models.MarketSnapshot
	for i := 0; i < 5; i++ {
		batch = append(batch, arbitrageMarket(fmt.Sprintf("m%d", i)))
	}
	source := &fakeSource{batches: [][]models.MarketSnapshot{batch}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk(), func(c *Config, _ *Deps) {
		c.MaxPendingAlerts = 3
	})
	env.dispatcher.setErr(errors.New("down"))

	require.NoError(t, scanOnce(t, env.scheduler))

	state := env.scheduler.State()
	assert.EqualValues(t, 5, state.AlertsGenerated)
	require.Len(t, state.PendingAlerts, 3)
	assert.Equal(t, "m2", state.PendingAlerts[0].MarketID)
	assert.Equal(t, "m4", state.PendingAlerts[2].MarketID)
}

func TestScan_AnalysisWindow(t *testing.T) {
	var batch []models.MarketSnapshot
	for i := 0; i < 8; i++ {
		batch = append(batch, quietMarket(fmt.Sprintf("m%d", i)))
	}
	source := &fakeSource{batches: [][]models.MarketSnapshot{batch}}
	var assessed atomic.Int32
	prob := probabilityFunc(func(context.Context, string) (*models.ProbabilityJudgment, error) {
		assessed.Add(1)
		return nil, errProbabilityDown
	})
	env := newTestEnv(t, source, prob, approvingRisk(), func(c *Config, _ *Deps) {
		c.MaxMarketsPerScan = 6
		c.MarketsAnalyzedPerScan = 3
	})

	require.NoError(t, scanOnce(t, env.scheduler))
	assert.EqualValues(t, 3, assessed.Load())
}

func TestScan_MalformedMarketDoesNotAbortBatch(t *testing.T) {
	bad := arbitrageMarket("bad")
	bad.YesProbability = 140
	source := &fakeSource{batches: [][]models.MarketSnapshot{{bad, arbitrageMarket("good")}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk())

	require.NoError(t, scanOnce(t, env.scheduler))

	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Will good happen?")
}

func TestScan_FetchFailureNotifiesOnceThenRecovers(t *testing.T) {
	source := &fakeSource{
		batches: [][]models.MarketSnapshot{{}},
		errs:    []error{errors.New("gamma unreachable"), errors.New("gamma unreachable"), nil},
	}
	env := newTestEnv(t, source, failingProbability(), approvingRisk())

	assert.Error(t, scanOnce(t, env.scheduler))
	assert.Error(t, scanOnce(t, env.scheduler))
	require.NoError(t, scanOnce(t, env.scheduler))

	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0], "Scan error:"))
	assert.Contains(t, msgs[0], "gamma unreachable")
	assert.Equal(t, "Scanning recovered after 2 consecutive failure(s)", msgs[1])

	// a failed fetch still counts as a completed, persisted scan
	assert.EqualValues(t, 3, env.scheduler.State().ScansCompleted)
	assert.Len(t, env.store.saved, 3)
}

func TestScan_PersistFailureRecreatesStateNextScan(t *testing.T) {
	store := &fakeStore{saveErrs: []error{errors.New("disk full")}}
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1")}, {}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk(), withStore(store))
	env.dispatcher.setErr(errors.New("down"))

	err := scanOnce(t, env.scheduler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, store.last())
	assert.EqualValues(t, 1, env.scheduler.State().AlertsGenerated)

	require.NoError(t, scanOnce(t, env.scheduler))
	// first save of the second scan re-creates the unsaved state
	require.GreaterOrEqual(t, len(store.saved), 2)
	assert.EqualValues(t, 1, store.saved[0].ScansCompleted)
	assert.Len(t, store.saved[0].PendingAlerts, 1)
	assert.EqualValues(t, 2, store.last().ScansCompleted)
}

func TestScan_CooldownSuppressesRepeatAlert(t *testing.T) {
	history := &fakeHistory{}
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1")}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk(), withHistory(history))

	require.NoError(t, scanOnce(t, env.scheduler))
	require.NoError(t, scanOnce(t, env.scheduler))

	assert.Len(t, env.dispatcher.messages(), 1)
	assert.EqualValues(t, 1, env.scheduler.State().AlertsGenerated)
	require.Len(t, history.records, 1)
	assert.True(t, history.notified[history.records[0].ID])
	assert.Equal(t, 2, history.rotated)
	assert.EqualValues(t, 1, env.risk.calls.Load(), "suppressed repeat must not reach the risk service")
}

func TestScan_CooldownDisabled(t *testing.T) {
	history := &fakeHistory{}
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1")}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk(), withHistory(history), func(c *Config, _ *Deps) {
		c.AlertCooldown = 0
	})

	require.NoError(t, scanOnce(t, env.scheduler))
	require.NoError(t, scanOnce(t, env.scheduler))

	assert.Len(t, env.dispatcher.messages(), 2)
	assert.EqualValues(t, 2, env.scheduler.State().AlertsGenerated)
}

func TestNewScheduler_RestoresPersistedState(t *testing.T) {
	initial := models.NewScanState()
	initial.AlertsGenerated = 7
	initial.TradesExecuted = 2
	initial.PendingAlerts = []models.AlertSummary{{ID: "old", MarketID: "m0", Question: "Old?"}}
	store := &fakeStore{initial: initial}
	env := newTestEnv(t, &fakeSource{}, failingProbability(), approvingRisk(), withStore(store))

	state := env.scheduler.State()
	assert.EqualValues(t, 7, state.AlertsGenerated)
	require.Len(t, state.PendingAlerts, 1)

	require.NoError(t, scanOnce(t, env.scheduler))
	msgs := env.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Old?")
	assert.EqualValues(t, 2, env.scheduler.State().TradesExecuted)
}

func TestRun_StopsOnCancel(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk(), func(c *Config, _ *Deps) {
		c.PollInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.scheduler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return env.scheduler.State().ScansCompleted >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, env.scheduler.Scanning())
}

func TestTriggerAsync_RefusesAfterCancel(t *testing.T) {
	source := &fakeSource{batches: [][]models.MarketSnapshot{{arbitrageMarket("m1")}}}
	env := newTestEnv(t, source, failingProbability(), approvingRisk())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, env.scheduler.TriggerAsync(ctx))
	env.scheduler.Wait()

	assert.False(t, env.scheduler.Scanning())
	assert.Zero(t, env.scheduler.State().ScansCompleted)
	assert.Empty(t, env.dispatcher.messages())
	assert.Zero(t, env.risk.calls.Load())
}
