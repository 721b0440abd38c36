package store

import (
	"context"
	"sync"

	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/scoring"
)

// Memory is the default backend: process-local maps, no durability.
type Memory struct {
	mu      sync.RWMutex
	scores  map[string]scoring.SessionScore
	records map[string]originality.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		scores:  make(map[string]scoring.SessionScore),
		records: make(map[string]originality.Record),
	}
}

func (m *Memory) GetScore(_ context.Context, sessionID string) (*scoring.SessionScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[sessionID]
	if !ok {
		return nil, nil
	}
	copied := s
	copied.FlaggedEventTypes = append([]string(nil), s.FlaggedEventTypes...)
	return &copied, nil
}

func (m *Memory) UpsertScore(_ context.Context, score *scoring.SessionScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *score
	copied.FlaggedEventTypes = append([]string(nil), score.FlaggedEventTypes...)
	m.scores[score.SessionID] = copied
	return nil
}

func (m *Memory) GetRecord(_ context.Context, contentHash string) (*originality.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[contentHash]
	if !ok {
		return nil, nil
	}
	copied := r
	return &copied, nil
}

func (m *Memory) UpsertRecord(_ context.Context, record *originality.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ContentHash] = *record
	return nil
}

func (m *Memory) Close() {}
