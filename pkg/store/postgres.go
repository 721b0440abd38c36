package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/scoring"
)

const scoresSchema = `
CREATE TABLE IF NOT EXISTS proctoring_scores (
	session_id          VARCHAR(255) PRIMARY KEY,
	rule_based_score    INTEGER NOT NULL DEFAULT 0,
	llm_risk_score      INTEGER,
	originality_score   INTEGER,
	final_score         INTEGER NOT NULL DEFAULT 0,
	flagged_events      TEXT[] NOT NULL DEFAULT '{}',
	llm_recommendation  VARCHAR(20),
	llm_reasoning       TEXT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const recordsSchema = `
CREATE TABLE IF NOT EXISTS code_originality_records (
	content_hash         VARCHAR(64) PRIMARY KEY,
	task_id              VARCHAR(255) NOT NULL DEFAULT '',
	originality_score    INTEGER NOT NULL,
	suspicious_patterns  TEXT[] NOT NULL DEFAULT '{}',
	explanation          TEXT NOT NULL DEFAULT '',
	embedding            REAL[],
	cached_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres persists scores and originality records in two tables with
// upsert-on-conflict semantics.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	for _, schema := range []string{scoresSchema, recordsSchema} {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetScore(ctx context.Context, sessionID string) (*scoring.SessionScore, error) {
	var s scoring.SessionScore
	var rec *string
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, rule_based_score, llm_risk_score, originality_score,
		       final_score, flagged_events, llm_recommendation, llm_reasoning, updated_at
		FROM proctoring_scores WHERE session_id = $1`, sessionID).
		Scan(&s.SessionID, &s.RuleScore, &s.LLMRiskScore, &s.OriginalityScore,
			&s.FinalScore, &s.FlaggedEventTypes, &rec, &s.LLMReasoning, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading score row: %w", err)
	}
	if rec != nil {
		s.LLMRecommendation = scoring.Recommendation(*rec)
	}
	return &s, nil
}

func (p *Postgres) UpsertScore(ctx context.Context, score *scoring.SessionScore) error {
	var rec *string
	if score.LLMRecommendation != "" {
		v := string(score.LLMRecommendation)
		rec = &v
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO proctoring_scores
			(session_id, rule_based_score, llm_risk_score, originality_score,
			 final_score, flagged_events, llm_recommendation, llm_reasoning, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			rule_based_score   = EXCLUDED.rule_based_score,
			llm_risk_score     = EXCLUDED.llm_risk_score,
			originality_score  = EXCLUDED.originality_score,
			final_score        = EXCLUDED.final_score,
			flagged_events     = EXCLUDED.flagged_events,
			llm_recommendation = EXCLUDED.llm_recommendation,
			llm_reasoning      = EXCLUDED.llm_reasoning,
			updated_at         = EXCLUDED.updated_at`,
		score.SessionID, score.RuleScore, score.LLMRiskScore, score.OriginalityScore,
		score.FinalScore, score.FlaggedEventTypes, rec, score.LLMReasoning, score.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting score row: %w", err)
	}
	return nil
}

func (p *Postgres) GetRecord(ctx context.Context, contentHash string) (*originality.Record, error) {
	var r originality.Record
	err := p.pool.QueryRow(ctx, `
		SELECT content_hash, task_id, originality_score, suspicious_patterns,
		       explanation, embedding, cached_at
		FROM code_originality_records WHERE content_hash = $1`, contentHash).
		Scan(&r.ContentHash, &r.TaskID, &r.OriginalityScore, &r.SuspiciousPatterns,
			&r.Explanation, &r.Embedding, &r.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record row: %w", err)
	}
	return &r, nil
}

func (p *Postgres) UpsertRecord(ctx context.Context, record *originality.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO code_originality_records
			(content_hash, task_id, originality_score, suspicious_patterns,
			 explanation, embedding, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_hash) DO NOTHING`,
		record.ContentHash, record.TaskID, record.OriginalityScore,
		record.SuspiciousPatterns, record.Explanation, record.Embedding, record.CachedAt)
	if err != nil {
		return fmt.Errorf("upserting record row: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
