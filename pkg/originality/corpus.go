package originality

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Record is one analyzed code body. Created on first analysis of a given
// normalized submission, read back verbatim on exact re-submission, never
// mutated afterwards.
type Record struct {
	ContentHash        string    `json:"content_hash"`
	TaskID             string    `json:"task_id"`
	OriginalityScore   int       `json:"originality_score"`
	SuspiciousPatterns []string  `json:"suspicious_patterns"`
	Explanation        string    `json:"explanation"`
	Embedding          []float32 `json:"embedding,omitempty"`
	CachedAt           time.Time `json:"cached_at"`
}

// RecordStore persists records across restarts: write-through on insert,
// read-through on a cache miss. The corpus functions without one, losing
// only cross-restart durability.
type RecordStore interface {
	GetRecord(ctx context.Context, contentHash string) (*Record, error)
	UpsertRecord(ctx context.Context, record *Record) error
}

// Corpus is the similarity-search index over analyzed submissions. Reads
// (cache lookups, similarity queries) take a shared lock so analysis of one
// session does not block inserts from another beyond the scan itself.
type Corpus struct {
	mu       sync.RWMutex
	capacity int
	byHash   map[string]*Record
	order    []string // insertion order, oldest first

	db    *chromem.DB
	bins  map[string]*chromem.Collection // one collection per task
	store RecordStore
}

// NewCorpus creates a corpus with bounded capacity. store may be nil.
func NewCorpus(capacity int, store RecordStore) *Corpus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Corpus{
		capacity: capacity,
		byHash:   make(map[string]*Record),
		order:    make([]string, 0, capacity),
		db:       chromem.NewDB(),
		bins:     make(map[string]*chromem.Collection),
		store:    store,
	}
}

// Lookup returns the cached record for a content hash, or nil. A miss falls
// through to the durable store so dedup survives restarts; fetched records
// are re-indexed for similarity search on the way back in.
func (c *Corpus) Lookup(ctx context.Context, contentHash string) *Record {
	c.mu.RLock()
	rec, ok := c.byHash[contentHash]
	c.mu.RUnlock()
	if ok {
		copied := *rec
		return &copied
	}
	if c.store == nil {
		return nil
	}

	stored, err := c.store.GetRecord(ctx, contentHash)
	if err != nil {
		log.Printf("[CORPUS] durable lookup %s failed: %v", truncateHash(contentHash), err)
		return nil
	}
	if stored == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byHash[contentHash]; ok {
		copied := *existing
		return &copied
	}
	if err := c.addLocked(ctx, stored); err != nil {
		log.Printf("[CORPUS] re-indexing %s failed: %v", truncateHash(contentHash), err)
	}
	copied := *stored
	return &copied
}

// Len returns the number of records currently held.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

// MaxSimilarity returns the highest cosine similarity between the embedding
// and any corpus entry for the same task, plus the matched content hash.
// An empty task bin yields (0, "").
func (c *Corpus) MaxSimilarity(ctx context.Context, taskID string, embedding []float32) (float32, string) {
	if len(embedding) == 0 {
		return 0, ""
	}

	c.mu.RLock()
	bin := c.bins[taskID]
	c.mu.RUnlock()
	if bin == nil || bin.Count() == 0 {
		return 0, ""
	}

	results, err := bin.QueryEmbedding(ctx, embedding, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return 0, ""
	}
	return results[0].Similarity, results[0].ID
}

// Add inserts a record, indexes its embedding under the record's task, and
// evicts oldest entries once capacity is exceeded. Re-adding an existing
// hash is a no-op.
func (c *Corpus) Add(ctx context.Context, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byHash[rec.ContentHash]; exists {
		return nil
	}
	if err := c.addLocked(ctx, rec); err != nil {
		return err
	}

	if c.store != nil {
		if err := c.store.UpsertRecord(ctx, rec); err != nil {
			log.Printf("[CORPUS] persist record %s failed: %v", truncateHash(rec.ContentHash), err)
		}
	}
	return nil
}

// addLocked inserts into the in-memory map and the similarity index,
// evicting over capacity. Caller holds the write lock.
func (c *Corpus) addLocked(ctx context.Context, rec *Record) error {
	copied := *rec
	c.byHash[rec.ContentHash] = &copied
	c.order = append(c.order, rec.ContentHash)

	if len(rec.Embedding) > 0 {
		bin, err := c.binLocked(rec.TaskID)
		if err != nil {
			return err
		}
		doc := chromem.Document{
			ID:        rec.ContentHash,
			Embedding: rec.Embedding,
			Metadata:  map[string]string{"task_id": rec.TaskID},
			Content:   rec.ContentHash,
		}
		if err := bin.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("indexing record: %w", err)
		}
	}

	for len(c.order) > c.capacity {
		c.evictOldestLocked(ctx)
	}
	return nil
}

func (c *Corpus) binLocked(taskID string) (*chromem.Collection, error) {
	if bin, ok := c.bins[taskID]; ok {
		return bin, nil
	}
	// Embeddings are always precomputed by the oracle client; the collection
	// must never synthesize its own.
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("corpus requires precomputed embeddings")
	}
	bin, err := c.db.CreateCollection("task_"+taskID, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating task collection: %w", err)
	}
	c.bins[taskID] = bin
	return bin, nil
}

func (c *Corpus) evictOldestLocked(ctx context.Context) {
	oldest := c.order[0]
	c.order = c.order[1:]

	rec, ok := c.byHash[oldest]
	if !ok {
		return
	}
	delete(c.byHash, oldest)

	if bin := c.bins[rec.TaskID]; bin != nil && len(rec.Embedding) > 0 {
		if err := bin.Delete(ctx, nil, nil, oldest); err != nil {
			log.Printf("[CORPUS] evicting %s from index failed: %v", truncateHash(oldest), err)
		}
	}
}

func truncateHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
