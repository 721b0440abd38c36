package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/scoring"
)

const (
	scoreKeyPrefix  = "warden:score:"
	recordKeyPrefix = "warden:code:"
)

// Redis stores scores and originality records as JSON values. No TTL: rows
// live until the session or corpus entry is explicitly replaced.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) GetScore(ctx context.Context, sessionID string) (*scoring.SessionScore, error) {
	raw, err := r.rdb.Get(ctx, scoreKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading score key: %w", err)
	}
	var s scoring.SessionScore
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding score value: %w", err)
	}
	return &s, nil
}

func (r *Redis) UpsertScore(ctx context.Context, score *scoring.SessionScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encoding score value: %w", err)
	}
	if err := r.rdb.Set(ctx, scoreKeyPrefix+score.SessionID, raw, 0).Err(); err != nil {
		return fmt.Errorf("writing score key: %w", err)
	}
	return nil
}

func (r *Redis) GetRecord(ctx context.Context, contentHash string) (*originality.Record, error) {
	raw, err := r.rdb.Get(ctx, recordKeyPrefix+contentHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record key: %w", err)
	}
	var rec originality.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding record value: %w", err)
	}
	return &rec, nil
}

func (r *Redis) UpsertRecord(ctx context.Context, record *originality.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record value: %w", err)
	}
	if err := r.rdb.Set(ctx, recordKeyPrefix+record.ContentHash, raw, 0).Err(); err != nil {
		return fmt.Errorf("writing record key: %w", err)
	}
	return nil
}

func (r *Redis) Close() {
	_ = r.rdb.Close()
}
