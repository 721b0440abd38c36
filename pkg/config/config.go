// Package config holds global settings for the Warden proctoring engine.
// All settings can be configured via environment variables or programmatically.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ModelKind distinguishes the two oracle capabilities.
type ModelKind string

const (
	KindChat      ModelKind = "chat"
	KindEmbedding ModelKind = "embedding"
)

// ModelSpec maps a logical model name to the provider model id and its
// requests-per-second ceiling.
type ModelSpec struct {
	ID   string
	RPS  float64
	Kind ModelKind
}

// StoreBackend selects the persistence implementation for session scores
// and originality records.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// Config holds all tunables for the scoring engine.
type Config struct {
	// === HTTP surface ===
	ListenPort string

	// === Oracle (external judgment service) ===
	// When OracleAPIKey is empty the client runs in deterministic offline
	// mode: Complete and Embed still return well-typed values.
	OracleAPIKey  string
	OracleBaseURL string
	OracleTimeout time.Duration // hard ceiling 120s
	Models        map[string]ModelSpec
	ChatModel     string // logical name used for deep behavioral analysis
	CodeModel     string // logical name used for originality judgment
	EmbedModel    string // logical name used for embeddings

	// === Behavioral scoring ===
	WindowMinutes    int    // trailing event window for rule/pattern analysis
	RuleOverridePath string // optional YAML file merged onto the built-in rule table

	// === Deep-analysis dispatch ===
	DeepScoreThreshold int           // dispatch when rule score exceeds this
	DeepEventThreshold int           // or when window event count exceeds this
	DeepMaxInflight    int           // concurrent background analyses
	DeepCacheTTL       time.Duration // per (session, events, elapsed) result cache

	// === Score combination policy ===
	// Empirically chosen weights; configurable, not hard law.
	RuleWeight   float64 // weight of the rule-based score (default 0.4)
	OracleWeight float64 // weight of the oracle risk score (default 0.6)

	// === Code originality ===
	CorpusCapacity int     // originality corpus size before oldest-first eviction
	SimilarityHigh float64 // cosine similarity above this subtracts 30
	SimilarityMed  float64 // cosine similarity above this subtracts 15
	LocalWeight    float64 // blend weight of the local heuristic pass
	JudgeWeight    float64 // blend weight of the oracle+similarity pass

	// === Persistence ===
	Backend     StoreBackend
	PostgresDSN string
	RedisAddr   string
	RedisDB     int
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		ListenPort: GetEnv("WARDEN_PORT", "8080"),

		OracleAPIKey:  GetEnv("WARDEN_ORACLE_API_KEY", os.Getenv("SCIBOX_API_KEY")),
		OracleBaseURL: GetEnv("WARDEN_ORACLE_BASE_URL", "https://llm.t1v.scibox.tech"),
		OracleTimeout: clampDuration(time.Duration(GetEnvInt("WARDEN_ORACLE_TIMEOUT_S", 60))*time.Second, time.Second, 120*time.Second),
		Models:        DefaultModels(),
		ChatModel:     GetEnv("WARDEN_CHAT_MODEL", "qwen3-awq"),
		CodeModel:     GetEnv("WARDEN_CODE_MODEL", "qwen3-coder"),
		EmbedModel:    GetEnv("WARDEN_EMBED_MODEL", "bge-m3"),

		WindowMinutes:    clampInt(GetEnvInt("WARDEN_WINDOW_MINUTES", 30), 1, 24*60),
		RuleOverridePath: GetEnv("WARDEN_RULES_FILE", ""),

		DeepScoreThreshold: GetEnvInt("WARDEN_DEEP_SCORE_THRESHOLD", 50),
		DeepEventThreshold: GetEnvInt("WARDEN_DEEP_EVENT_THRESHOLD", 20),
		DeepMaxInflight:    clampInt(GetEnvInt("WARDEN_DEEP_MAX_INFLIGHT", 8), 1, 256),
		DeepCacheTTL:       time.Duration(GetEnvInt("WARDEN_DEEP_CACHE_TTL_S", 600)) * time.Second,

		RuleWeight:   GetEnvFloat("WARDEN_RULE_WEIGHT", 0.4),
		OracleWeight: GetEnvFloat("WARDEN_ORACLE_WEIGHT", 0.6),

		CorpusCapacity: clampInt(GetEnvInt("WARDEN_CORPUS_CAPACITY", 1000), 10, 100000),
		SimilarityHigh: GetEnvFloat("WARDEN_SIMILARITY_HIGH", 0.85),
		SimilarityMed:  GetEnvFloat("WARDEN_SIMILARITY_MED", 0.70),
		LocalWeight:    GetEnvFloat("WARDEN_LOCAL_WEIGHT", 0.3),
		JudgeWeight:    GetEnvFloat("WARDEN_JUDGE_WEIGHT", 0.7),

		PostgresDSN: GetEnv("WARDEN_POSTGRES_DSN", os.Getenv("DATABASE_URL")),
		RedisAddr:   GetEnv("WARDEN_REDIS_ADDR", ""),
		RedisDB:     GetEnvInt("WARDEN_REDIS_DB", 0),
	}

	cfg.Backend = detectBackend(cfg)
	return cfg
}

// DefaultModels mirrors the judgment service's published model table.
func DefaultModels() map[string]ModelSpec {
	return map[string]ModelSpec{
		"bge-m3":      {ID: "bge-m3", RPS: 7, Kind: KindEmbedding},
		"qwen3-coder": {ID: "qwen3-coder-30b-a3b-instruct-fp8", RPS: 2, Kind: KindChat},
		"qwen3-awq":   {ID: "qwen3-32b-awq", RPS: 2, Kind: KindChat},
	}
}

// OfflineMode reports whether the oracle client should run without network.
func (c *Config) OfflineMode() bool {
	return c.OracleAPIKey == ""
}

// Validate checks combination weights and model references.
func (c *Config) Validate() error {
	var problems []string
	if c.RuleWeight < 0 || c.OracleWeight < 0 || c.RuleWeight+c.OracleWeight == 0 {
		problems = append(problems, "rule/oracle weights must be non-negative and not both zero")
	}
	if c.LocalWeight < 0 || c.JudgeWeight < 0 || c.LocalWeight+c.JudgeWeight == 0 {
		problems = append(problems, "local/judge weights must be non-negative and not both zero")
	}
	for _, name := range []string{c.ChatModel, c.CodeModel, c.EmbedModel} {
		if _, ok := c.Models[name]; !ok {
			problems = append(problems, "unknown model name: "+name)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func detectBackend(c *Config) StoreBackend {
	if b := os.Getenv("WARDEN_STORE"); b != "" {
		return StoreBackend(b)
	}
	if c.PostgresDSN != "" {
		return StorePostgres
	}
	if c.RedisAddr != "" {
		return StoreRedis
	}
	return StoreMemory
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func clampDuration(val, min, max time.Duration) time.Duration {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
