package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/oracle"
	"github.com/truesignal/warden/pkg/scoring"
)

type memStore struct {
	mu     sync.Mutex
	scores map[string]scoring.SessionScore
}

func newMemStore() *memStore {
	return &memStore{scores: make(map[string]scoring.SessionScore)}
}

func (m *memStore) GetScore(_ context.Context, sessionID string) (*scoring.SessionScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[sessionID]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

func (m *memStore) UpsertScore(_ context.Context, score *scoring.SessionScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[score.SessionID] = *score
	return nil
}

func testDispatcher(t *testing.T) (*Dispatcher, *scoring.Scorekeeper) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.OracleAPIKey = "" // offline: deterministic completions, no network
	keeper := scoring.NewScorekeeper(newMemStore(), scoring.DefaultCombinePolicy(), nil)
	return NewDispatcher(cfg, oracle.NewClient(cfg), keeper), keeper
}

func windowOf(n int) []scoring.Event {
	base := time.Now().Add(-10 * time.Minute)
	evs := make([]scoring.Event, n)
	for i := range evs {
		evs[i] = scoring.Event{
			SessionID: "s1",
			Type:      scoring.EventTabSwitch,
			Timestamp: base.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
	}
	return evs
}

func TestMaybeDispatch_BelowThresholdsSkips(t *testing.T) {
	d, _ := testDispatcher(t)

	if d.MaybeDispatch("s1", windowOf(5), 30) {
		t.Error("dispatched below both thresholds")
	}
}

func TestMaybeDispatch_ScoreThresholdFires(t *testing.T) {
	d, keeper := testDispatcher(t)
	ctx := context.Background()

	if _, err := keeper.Update(ctx, "s1", 60, nil); err != nil {
		t.Fatal(err)
	}
	if !d.MaybeDispatch("s1", windowOf(5), 60) {
		t.Fatal("rule score 60 should trigger dispatch")
	}
	d.Drain()

	score, err := keeper.Score(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if score.LLMRiskScore == nil {
		t.Fatal("deep analysis result was not applied")
	}
	if score.LLMRecommendation != scoring.RecommendWatch {
		t.Errorf("recommendation = %s, want watch", score.LLMRecommendation)
	}
	// Blend must fold the oracle verdict in.
	if score.FinalScore == 60 {
		t.Error("final score unchanged, oracle judgment not blended")
	}
}

func TestMaybeDispatch_EventVolumeFires(t *testing.T) {
	d, _ := testDispatcher(t)

	if !d.MaybeDispatch("s1", windowOf(21), 10) {
		t.Error("21 events should trigger dispatch regardless of score")
	}
	d.Drain()
}

func TestMaybeDispatch_DedupesSameEventSet(t *testing.T) {
	d, _ := testDispatcher(t)
	events := windowOf(25)

	if !d.MaybeDispatch("s1", events, 10) {
		t.Fatal("first dispatch should fire")
	}
	if d.MaybeDispatch("s1", events, 10) {
		t.Error("identical event set re-triggered an oracle call")
	}
	d.Drain()
}

func TestMaybeDispatch_DroppedDispatchStaysRetryable(t *testing.T) {
	d, _ := testDispatcher(t)
	at := time.Now()
	d.now = func() time.Time { return at }
	events := windowOf(25)

	// Exhaust the analysis slots so the dispatch is dropped.
	slots := 0
	for d.sem.TryAcquire() {
		slots++
	}
	if d.MaybeDispatch("s1", events, 10) {
		t.Fatal("dispatch fired with no slot available")
	}
	for i := 0; i < slots; i++ {
		d.sem.Release()
	}

	// Only completed analyses dedupe; the drop must not pin the key.
	if !d.MaybeDispatch("s1", events, 10) {
		t.Error("dropped event set was suppressed from re-analysis")
	}
	d.Drain()

	if d.MaybeDispatch("s1", events, 10) {
		t.Error("completed event set re-triggered an oracle call")
	}
}

func TestMaybeDispatch_EmptyWindowSkips(t *testing.T) {
	d, _ := testDispatcher(t)

	if d.MaybeDispatch("s1", nil, 90) {
		t.Error("dispatched with no events to analyze")
	}
}
