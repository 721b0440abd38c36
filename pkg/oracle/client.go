// Package oracle provides the rate-limited client for the external judgment
// service: free-text chat completion and vector embedding generation.
//
// The client never retries internally; retries are a caller policy choice.
// All transport failures surface as ErrUnavailable, which callers must treat
// as non-fatal and absorb into offline heuristics.
package oracle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/httputil"
)

// ErrUnavailable indicates a network, auth, or non-2xx failure talking to the
// judgment service. Non-fatal by contract: callers fall back to heuristics.
var ErrUnavailable = errors.New("oracle unavailable")

// offlineEmbeddingDim is the vector size produced in offline mode.
const offlineEmbeddingDim = 64

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one chat-completion call. Model is the logical
// model name from the config table, not the provider model id.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Client talks to an OpenAI-compatible judgment service with per-model
// single-slot rate limiting. When no credential is configured it operates in
// deterministic offline mode so downstream components stay exercised.
type Client struct {
	baseURL  string
	apiKey   string
	models   map[string]config.ModelSpec
	limiters map[string]*limiter
	chat     *http.Client
	embed    *http.Client
	offline  bool
}

// NewClient constructs a client from config. One limiter per configured model.
func NewClient(cfg *config.Config) *Client {
	limiters := make(map[string]*limiter, len(cfg.Models))
	for name, spec := range cfg.Models {
		limiters[name] = newLimiter(spec.RPS)
	}

	// Completions run on the configuration-driven timeout; embeddings are
	// small fixed-cost calls and share the standard medium-tier client.
	c := &Client{
		baseURL:  strings.TrimRight(cfg.OracleBaseURL, "/"),
		apiKey:   cfg.OracleAPIKey,
		models:   cfg.Models,
		limiters: limiters,
		chat:     httputil.WithTimeout(cfg.OracleTimeout),
		embed:    httputil.Client(httputil.TierMedium),
		offline:  cfg.OfflineMode(),
	}
	if c.offline {
		log.Println("[ORACLE] no credential configured - running in deterministic offline mode")
	}
	return c
}

// Offline reports whether the client runs without network access.
func (c *Client) Offline() bool {
	return c.offline
}

func (c *Client) resolve(name string, kind config.ModelKind) (config.ModelSpec, *limiter, error) {
	spec, ok := c.models[name]
	if !ok {
		return config.ModelSpec{}, nil, fmt.Errorf("unknown model %q", name)
	}
	if spec.Kind != kind {
		return config.ModelSpec{}, nil, fmt.Errorf("model %q is %s, want %s", name, spec.Kind, kind)
	}
	return spec, c.limiters[name], nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete generates a chat completion and returns the raw response text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	spec, lim, err := c.resolve(req.Model, config.KindChat)
	if err != nil {
		return "", err
	}

	if c.offline {
		return offlineCompletion(req), nil
	}

	lim.wait()

	body := chatRequest{
		Model:       spec.ID,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	raw, err := c.post(ctx, c.chat, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed completion response: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	spec, lim, err := c.resolve(model, config.KindEmbedding)
	if err != nil {
		return nil, err
	}

	if c.offline {
		return offlineEmbedding(text), nil
	}

	lim.wait()

	raw, err := c.post(ctx, c.embed, "/v1/embeddings", embeddingRequest{Model: spec.ID, Input: text})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed embedding response: %v", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrUnavailable)
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping checks that the judgment service answers at all. Used for the startup
// reachability report; runs on the fast tier so a dead endpoint fails quickly.
func (c *Client) Ping(ctx context.Context) error {
	if c.offline {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := httputil.Client(httputil.TierFast).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// offlineCompletion returns a deterministic, well-typed verdict so that
// parsing and score combination stay exercised without network access.
// The payload-size band mirrors the judgment service's offline heuristic:
// code bodies over 1200 characters are treated as likely pasted.
func offlineCompletion(req CompletionRequest) string {
	var prompt string
	for _, m := range req.Messages {
		if m.Role == "user" {
			prompt = m.Content
		}
	}

	if strings.Contains(prompt, "originality_score") {
		score := 82
		explanation := "offline heuristic: code length within typical authored range"
		patterns := []string{}
		if len(fencedBody(prompt)) > 1200 {
			score = 35
			explanation = "offline heuristic: large code body, consistent with a paste"
			patterns = append(patterns, "large_code_body")
		}
		out, _ := json.Marshal(map[string]any{
			"originality_score":   score,
			"suspicious_patterns": patterns,
			"explanation":         explanation,
		})
		return string(out)
	}

	// Behavioral analysis prompt: scale risk with how much event evidence
	// the prompt carries, bounded to the watch band.
	risk := 20
	if len(prompt) > 2000 {
		risk = 45
	}
	out, _ := json.Marshal(map[string]any{
		"risk_score":     risk,
		"flagged_events": []string{},
		"reasoning":      "offline heuristic: no oracle credential configured",
		"recommendation": "watch",
	})
	return string(out)
}

// fencedBody extracts the first fenced code block from a prompt so the
// size band measures the submitted code, not the prompt template around it.
// Prompts without a fence are measured whole.
func fencedBody(prompt string) string {
	start := strings.Index(prompt, "```")
	if start < 0 {
		return prompt
	}
	rest := prompt[start+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return prompt
	}
	body := rest[nl+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		return prompt
	}
	return strings.TrimSuffix(body[:end], "\n")
}

// offlineEmbedding derives a deterministic pseudo-vector from a SHA-256 of
// the text. Identical inputs map to identical vectors, so exact duplicates
// still reach cosine similarity 1.0 in similarity search.
func offlineEmbedding(text string) []float32 {
	vec := make([]float32, offlineEmbeddingDim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < offlineEmbeddingDim; i++ {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		vec[i] = float32(bits)/float32(1<<31) - 1
	}
	return vec
}
