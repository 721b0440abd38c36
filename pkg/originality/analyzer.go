package originality

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/oracle"
)

// Method records which passes contributed to a verdict.
const (
	MethodLocal = "local"
	MethodLLM   = "llm"
	MethodBoth  = "both"
)

// Verdict is the originality judgment for one code submission.
type Verdict struct {
	AnalysisID         string   `json:"analysis_id"`
	Score              int      `json:"originality_score"`
	SuspiciousPatterns []string `json:"suspicious_patterns"`
	Explanation        string   `json:"explanation"`
	Method             string   `json:"method"`
	Cached             bool     `json:"cached"`
	MaxSimilarity      float32  `json:"max_similarity,omitempty"`
}

// judgeReply is the structure the oracle is asked to produce.
type judgeReply struct {
	OriginalityScore   int      `json:"originality_score"`
	SuspiciousPatterns []string `json:"suspicious_patterns"`
	Explanation        string   `json:"explanation"`
}

// Analyzer runs the originality pipeline. All oracle and embedding failures
// are absorbed into degraded verdicts; Analyze never returns an error.
type Analyzer struct {
	oracle *oracle.Client
	corpus *Corpus

	codeModel  string
	embedModel string

	simHigh     float32
	simMed      float32
	localWeight float64
	judgeWeight float64
}

// NewAnalyzer wires the analyzer to the oracle client and corpus.
func NewAnalyzer(cfg *config.Config, client *oracle.Client, corpus *Corpus) *Analyzer {
	return &Analyzer{
		oracle:      client,
		corpus:      corpus,
		codeModel:   cfg.CodeModel,
		embedModel:  cfg.EmbedModel,
		simHigh:     float32(cfg.SimilarityHigh),
		simMed:      float32(cfg.SimilarityMed),
		localWeight: cfg.LocalWeight,
		judgeWeight: cfg.JudgeWeight,
	}
}

// Analyze scores one code submission for originality. Identical normalized
// submissions hit the content-addressable cache and return the stored
// verdict.
func (a *Analyzer) Analyze(ctx context.Context, code, taskID, taskDescription, language string) *Verdict {
	normalized := Normalize(code)
	contentHash := Hash(normalized)

	if rec := a.corpus.Lookup(ctx, contentHash); rec != nil {
		return &Verdict{
			AnalysisID:         uuid.NewString(),
			Score:              rec.OriginalityScore,
			SuspiciousPatterns: rec.SuspiciousPatterns,
			Explanation:        rec.Explanation,
			Method:             MethodBoth,
			Cached:             true,
		}
	}

	local, patterns := localScore(code)

	judge, judgeOK := a.judge(ctx, code, taskDescription, language)
	if judgeOK {
		patterns = append(patterns, judge.SuspiciousPatterns...)
	}

	embedding := a.embed(ctx, code)
	maxSim, matchedHash := a.corpus.MaxSimilarity(ctx, taskID, embedding)

	explanation := judge.Explanation
	if !judgeOK {
		explanation = "Oracle unavailable; verdict from local heuristics."
	}
	judgeScore := judge.OriginalityScore
	switch {
	case maxSim > a.simHigh:
		judgeScore -= 30
		explanation += fmt.Sprintf(" Near-duplicate of a prior submission (similarity %.2f, match %s).", maxSim, truncateHash(matchedHash))
	case maxSim > a.simMed:
		judgeScore -= 15
		explanation += fmt.Sprintf(" Similar to a prior submission (similarity %.2f).", maxSim)
	}

	var score int
	var method string
	if judgeOK {
		score = int(math.Round(a.localWeight*float64(local) + a.judgeWeight*float64(judgeScore)))
		method = MethodBoth
	} else {
		score = local
		method = MethodLocal
	}
	score = clampScore(score)

	rec := &Record{
		ContentHash:        contentHash,
		TaskID:             taskID,
		OriginalityScore:   score,
		SuspiciousPatterns: patterns,
		Explanation:        explanation,
		Embedding:          embedding,
		CachedAt:           time.Now().UTC(),
	}
	if err := a.corpus.Add(ctx, rec); err != nil {
		log.Printf("[ORIGINALITY] corpus insert failed: %v", err)
	}

	return &Verdict{
		AnalysisID:         uuid.NewString(),
		Score:              score,
		SuspiciousPatterns: patterns,
		Explanation:        explanation,
		Method:             method,
		MaxSimilarity:      maxSim,
	}
}

// judge asks the oracle for a structured originality verdict. Unavailable
// oracle means the local pass carries the verdict alone; unparseable output
// degrades to a neutral verdict.
func (a *Analyzer) judge(ctx context.Context, code, taskDescription, language string) (judgeReply, bool) {
	prompt := fmt.Sprintf(`Analyze the following code for signs that it was copied from an external source (GitHub, Stack Overflow, public repositories).

Code:
%s
%s
%s

Task: %s

Return JSON with these fields:
- originality_score: number from 0 to 100 (100 = fully original)
- suspicious_patterns: list of strings describing suspicious patterns (may be empty)
- explanation: reasoning behind the score

Respond with ONLY valid JSON, no extra text.`, "```"+language, code, "```", taskDescription)

	text, err := a.oracle.Complete(ctx, oracle.CompletionRequest{
		Model: a.codeModel,
		Messages: []oracle.Message{
			{Role: "system", Content: "You are an expert at judging code originality. You always respond with valid JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		log.Printf("[ORIGINALITY] oracle judgment unavailable: %v", err)
		return judgeReply{}, false
	}

	var reply judgeReply
	if _, ok := oracle.ParseInto(text, &reply); !ok {
		log.Printf("[ORIGINALITY] unparseable oracle verdict (%d bytes), using neutral score", len(text))
		return judgeReply{
			OriginalityScore: 50,
			Explanation:      "Oracle verdict could not be parsed; neutral score applied.",
		}, true
	}
	reply.OriginalityScore = clampScore(reply.OriginalityScore)
	return reply, true
}

// embed fetches the code's embedding. Failures disable the similarity pass
// for this submission only.
func (a *Analyzer) embed(ctx context.Context, code string) []float32 {
	vec, err := a.oracle.Embed(ctx, code, a.embedModel)
	if err != nil {
		log.Printf("[ORIGINALITY] embedding unavailable: %v", err)
		return nil
	}
	return vec
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
