package hypothesis

// Package hypothesis implements the Tree-of-Thought proposal step: one LLM
// call that fans the incident out into ranked candidate root causes, each
// verified independently by a reaction-loop session afterwards.
//
// Responsibilities:
//   - Prior-incident retrieval through the document-search tool, tolerating
//     its absence or failure
//   - Parsing, confidence normalization, and source inference for the
//     proposed hypotheses
//   - The never-empty guarantee: rate limiting or zero parsable blocks
//     degrade to exactly one low-confidence fallback hypothesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/reasoning/parse"
	"github.com/faultline/faultline-ai/internal/reasoning/prompt"
	"github.com/faultline/faultline-ai/internal/tool"
)

const (
	defaultMaxHypotheses = 3
	defaultSearchTool    = "search_runbooks"

	// SourceKnowledgeBase marks hypotheses grounded in retrieved prior
	// incidents; SourceLLM marks ones the model proposed on its own.
	SourceKnowledgeBase = "knowledge_base"
	SourceLLM           = "llm"
)

// Hypothesis is one candidate root-cause explanation. Immutable after
// generation except for the evaluation result attached by the orchestrator.
type Hypothesis struct {
	ID              string  `json:"id"`
	Description     string  `json:"description"`
	Confidence      float64 `json:"confidence"` // normalized to [0,1]
	ConfidenceLevel string  `json:"confidence_level"`
	Reasoning       string  `json:"reasoning,omitempty"`
	Source          string  `json:"source"`
}

// Result is the generator output: ranked hypotheses plus the raw search
// context they were proposed against.
type Result struct {
	Hypotheses    []Hypothesis `json:"hypotheses"`
	SearchResults string       `json:"search_results,omitempty"`
}

// Options tunes the generator.
type Options struct {
	// MaxHypotheses caps the number of hypotheses kept. Zero means 3.
	MaxHypotheses int
	// SearchTool overrides the registered document-search tool name.
	SearchTool string
}

// Generator proposes ranked root-cause hypotheses for an incident.
type Generator struct {
	llm           adapter.Invoker
	tools         *tool.Registry
	maxHypotheses int
	searchTool    string
}

// NewGenerator creates a Generator over the given LLM invoker and registry.
func NewGenerator(llm adapter.Invoker, tools *tool.Registry, opts Options) *Generator {
	maxHypotheses := opts.MaxHypotheses
	if maxHypotheses <= 0 {
		maxHypotheses = defaultMaxHypotheses
	}
	searchTool := opts.SearchTool
	if searchTool == "" {
		searchTool = defaultSearchTool
	}
	return &Generator{llm: llm, tools: tools, maxHypotheses: maxHypotheses, searchTool: searchTool}
}

// Generate proposes hypotheses for the problem statement, most confident
// first. The result is never empty: rate limiting and unparseable output
// both degrade to a single low-confidence fallback. Generic LLM failures are
// returned as errors so the caller can retry the step.
func (g *Generator) Generate(ctx context.Context, problem string) (*Result, error) {
	searchResults := g.search(ctx, problem)

	completion, err := g.llm.Invoke(ctx, prompt.Hypotheses(problem, searchResults, g.maxHypotheses), types.InvokeOptions{
		SystemPrompt: prompt.System(),
	})
	if err != nil {
		if types.IsRateLimited(err) {
			return g.fallback(problem, searchResults, "LLM rate limited during hypothesis generation"), nil
		}
		return nil, fmt.Errorf("hypothesis: generation invocation: %w", err)
	}

	blocks := parse.ParseHypotheses(completion.Text, g.maxHypotheses)
	if len(blocks) == 0 {
		return g.fallback(problem, searchResults, "model response contained no parsable hypothesis blocks"), nil
	}

	hypotheses := make([]Hypothesis, 0, len(blocks))
	for _, block := range blocks {
		h := Hypothesis{
			ID:          uuid.NewString(),
			Description: block.Description,
			Confidence:  normalizeConfidence(block),
			Reasoning:   block.Reasoning,
			Source:      inferSource(block, searchResults),
		}
		h.ConfidenceLevel = ConfidenceLevel(h.Confidence)
		metrics.HypothesesGenerated.WithLabelValues(h.Source).Inc()
		hypotheses = append(hypotheses, h)
	}

	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].Confidence > hypotheses[j].Confidence
	})

	return &Result{Hypotheses: hypotheses, SearchResults: searchResults}, nil
}

// search queries the document-search tool for prior-incident context. Any
// failure, including the tool not being registered, degrades to an empty
// result rather than aborting the analysis.
func (g *Generator) search(ctx context.Context, problem string) string {
	out, err := g.tools.Execute(ctx, g.searchTool, map[string]any{"query": problem})
	if err != nil {
		return ""
	}
	return out
}

// fallback is the single low-confidence hypothesis substituted when nothing
// usable came back from the model.
func (g *Generator) fallback(problem, searchResults, reason string) *Result {
	h := Hypothesis{
		ID:              uuid.NewString(),
		Description:     fmt.Sprintf("General service degradation related to: %s", strings.TrimSpace(problem)),
		Confidence:      0.3,
		ConfidenceLevel: "low",
		Reasoning:       fmt.Sprintf("Fallback hypothesis: %s.", reason),
		Source:          SourceLLM,
	}
	metrics.HypothesesGenerated.WithLabelValues("fallback").Inc()
	return &Result{Hypotheses: []Hypothesis{h}, SearchResults: searchResults}
}

// normalizeConfidence maps a raw parsed confidence into [0,1]. Values above 1
// are treated as a 0-100 scale; a missing confidence defaults to 0.5.
func normalizeConfidence(block parse.HypothesisBlock) float64 {
	if !block.ConfidenceSet {
		return 0.5
	}
	v := block.Confidence
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ConfidenceLevel buckets a normalized confidence into high/medium/low.
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// inferSource labels a hypothesis knowledge_base when the model says so or
// when its description materially overlaps the retrieved documents.
func inferSource(block parse.HypothesisBlock, searchResults string) string {
	if block.Source == SourceKnowledgeBase {
		return SourceKnowledgeBase
	}
	if block.Source == SourceLLM {
		return SourceLLM
	}
	if overlaps(block.Description, searchResults) {
		return SourceKnowledgeBase
	}
	return SourceLLM
}

// overlaps reports whether at least two substantive words from the
// description appear in the search results.
func overlaps(description, searchResults string) bool {
	if searchResults == "" {
		return false
	}
	haystack := strings.ToLower(searchResults)
	hits := 0
	for _, word := range strings.Fields(strings.ToLower(description)) {
		word = strings.Trim(word, ".,:;()\"'")
		if len(word) < 5 {
			continue
		}
		if strings.Contains(haystack, word) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}
