package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/scoring"
)

func intPtr(v int) *int { return &v }

func sampleScore(sessionID string) *scoring.SessionScore {
	return &scoring.SessionScore{
		SessionID:         sessionID,
		RuleScore:         45,
		LLMRiskScore:      intPtr(70),
		FinalScore:        60,
		FlaggedEventTypes: []string{"clipboard_paste", "devtools_detected"},
		LLMRecommendation: scoring.RecommendWatch,
		LLMReasoning:      "sustained pasting",
		UpdatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func sampleRecord() *originality.Record {
	return &originality.Record{
		ContentHash:        "deadbeef",
		TaskID:             "task-7",
		OriginalityScore:   42,
		SuspiciousPatterns: []string{"large_code_body"},
		Explanation:        "looks pasted",
		Embedding:          []float32{0.1, -0.4, 0.9},
		CachedAt:           time.Now().UTC().Truncate(time.Second),
	}
}

func checkRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.GetScore(ctx, "absent")
	if err != nil || got != nil {
		t.Fatalf("GetScore(absent) = (%v, %v), want (nil, nil)", got, err)
	}

	score := sampleScore("s1")
	if err := s.UpsertScore(ctx, score); err != nil {
		t.Fatalf("UpsertScore failed: %v", err)
	}
	got, err = s.GetScore(ctx, "s1")
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	if got.FinalScore != 60 || got.LLMRiskScore == nil || *got.LLMRiskScore != 70 {
		t.Errorf("score round-trip = %+v", got)
	}
	if len(got.FlaggedEventTypes) != 2 {
		t.Errorf("flagged round-trip = %v", got.FlaggedEventTypes)
	}

	// Upsert replaces, not duplicates.
	score.FinalScore = 85
	if err := s.UpsertScore(ctx, score); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetScore(ctx, "s1")
	if got.FinalScore != 85 {
		t.Errorf("after second upsert final = %d, want 85", got.FinalScore)
	}

	gotRec, err := s.GetRecord(ctx, "absent")
	if err != nil || gotRec != nil {
		t.Fatalf("GetRecord(absent) = (%v, %v), want (nil, nil)", gotRec, err)
	}
	if err := s.UpsertRecord(ctx, sampleRecord()); err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}
	gotRec, err = s.GetRecord(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if gotRec.OriginalityScore != 42 || gotRec.TaskID != "task-7" {
		t.Errorf("record round-trip = %+v", gotRec)
	}
	if len(gotRec.Embedding) != 3 {
		t.Errorf("embedding round-trip = %v", gotRec.Embedding)
	}
}

func TestMemoryStore(t *testing.T) {
	checkRoundTrip(t, NewMemory())
}

func TestMemoryStore_CopiesOnRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.UpsertScore(ctx, sampleScore("s1")); err != nil {
		t.Fatal(err)
	}
	first, _ := m.GetScore(ctx, "s1")
	first.FlaggedEventTypes[0] = "mutated"

	second, _ := m.GetScore(ctx, "s1")
	if second.FlaggedEventTypes[0] != "clipboard_paste" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedis(context.Background(), mr.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer s.Close()

	checkRoundTrip(t, s)
}
