// Package store provides the persistence collaborators behind the score
// combiner and the originality corpus. Three backends share one contract:
// in-memory (default, no durability), Postgres, and Redis. The engine
// behaves identically against all three.
package store

import (
	"context"
	"fmt"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/scoring"
)

// Store is the keyed upsert/read contract over session scores and
// originality records.
type Store interface {
	scoring.ScoreStore
	originality.RecordStore

	// Close releases backend resources. Safe to call on all backends.
	Close()
}

// Open selects and connects the configured backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case config.StorePostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	case config.StoreRedis:
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
