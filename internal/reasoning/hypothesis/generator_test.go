package hypothesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/reasoning/parse"
	"github.com/faultline/faultline-ai/internal/tool"
)

type stubLLM struct {
	text    string
	err     error
	prompts []string
}

func (s *stubLLM) Invoke(_ context.Context, prompt string, _ types.InvokeOptions) (*types.Completion, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return nil, s.err
	}
	return &types.Completion{Text: s.text}, nil
}

func (s *stubLLM) Provider() string { return "stub" }
func (s *stubLLM) Model() string    { return "stub" }

func registryWithSearch(result string, err error) *tool.Registry {
	r := tool.NewRegistry()
	r.Register(tool.Descriptor{
		Name:   "search_runbooks",
		Params: []tool.ParamSpec{{Name: "query", Type: "string", Required: true}},
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return result, err
	})
	return r
}

func TestGenerate_RanksAndNormalizes(t *testing.T) {
	llm := &stubLLM{text: `Hypothesis 1:
Description: Upstream payment provider latency
Confidence: 60
Reasoning: p99 doubled

Hypothesis 2:
Description: Connection pool exhaustion after the deploy
Confidence: 0.9
Source: knowledge_base
`}
	g := NewGenerator(llm, registryWithSearch("runbook: pool exhaustion incidents", nil), Options{})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 2)

	// Sorted descending by normalized confidence: 0.9 before 60/100.
	assert.Equal(t, "Connection pool exhaustion after the deploy", res.Hypotheses[0].Description)
	assert.InDelta(t, 0.9, res.Hypotheses[0].Confidence, 1e-9)
	assert.Equal(t, "high", res.Hypotheses[0].ConfidenceLevel)
	assert.Equal(t, SourceKnowledgeBase, res.Hypotheses[0].Source)

	assert.InDelta(t, 0.6, res.Hypotheses[1].Confidence, 1e-9)
	assert.Equal(t, "medium", res.Hypotheses[1].ConfidenceLevel)
	assert.Equal(t, SourceLLM, res.Hypotheses[1].Source)

	for _, h := range res.Hypotheses {
		assert.NotEmpty(t, h.ID)
	}
}

func TestGenerate_RespectsMaxHypotheses(t *testing.T) {
	llm := &stubLLM{text: `Hypothesis:
Description: one
Confidence: 0.5
Hypothesis:
Description: two
Confidence: 0.9
Hypothesis:
Description: three
Confidence: 0.7
Hypothesis:
Description: four
Confidence: 0.8
Hypothesis:
Description: five
Confidence: 0.6
`}
	g := NewGenerator(llm, registryWithSearch("", nil), Options{MaxHypotheses: 2})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 2)
	// The cap applies at parse time, then the kept blocks are sorted.
	assert.Equal(t, "two", res.Hypotheses[0].Description)
	assert.Equal(t, "one", res.Hypotheses[1].Description)
	assert.GreaterOrEqual(t, res.Hypotheses[0].Confidence, res.Hypotheses[1].Confidence)
}

func TestGenerate_ZeroBlocksFallsBack(t *testing.T) {
	llm := &stubLLM{text: "I could not come up with any hypotheses."}
	g := NewGenerator(llm, registryWithSearch("", nil), Options{})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 1, "never an empty list")
	assert.Contains(t, res.Hypotheses[0].Description, "checkout errors spiking")
	assert.Equal(t, "low", res.Hypotheses[0].ConfidenceLevel)
	assert.Equal(t, SourceLLM, res.Hypotheses[0].Source)
}

func TestGenerate_RateLimitedFallsBack(t *testing.T) {
	llm := &stubLLM{err: types.NewRateLimitedError("stub", errors.New("429"))}
	g := NewGenerator(llm, registryWithSearch("", nil), Options{})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 1)
	assert.Contains(t, res.Hypotheses[0].Reasoning, "rate limited")
}

func TestGenerate_GenericLLMErrorSurfaces(t *testing.T) {
	llm := &stubLLM{err: types.NewGenericError("stub", errors.New("boom"))}
	g := NewGenerator(llm, registryWithSearch("", nil), Options{})

	_, err := g.Generate(context.Background(), "checkout errors spiking")
	require.Error(t, err)
}

func TestGenerate_SearchFailureTolerated(t *testing.T) {
	llm := &stubLLM{text: `Hypothesis:
Description: Connection pool exhaustion
Confidence: 0.7
`}
	g := NewGenerator(llm, registryWithSearch("", errors.New("index offline")), Options{})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 1)
	assert.Empty(t, res.SearchResults)
	// The prompt still went out, with the empty-context placeholder.
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "no prior-incident context available")
}

func TestGenerate_SearchToolUnregisteredTolerated(t *testing.T) {
	llm := &stubLLM{text: `Hypothesis:
Description: Connection pool exhaustion
`}
	g := NewGenerator(llm, tool.NewRegistry(), Options{})

	res, err := g.Generate(context.Background(), "checkout errors spiking")
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 1)
	// Missing confidence defaults to the midpoint.
	assert.InDelta(t, 0.5, res.Hypotheses[0].Confidence, 1e-9)
}

func hypBlock(desc, source string) parse.HypothesisBlock {
	return parse.HypothesisBlock{Description: desc, Source: source}
}

func TestInferSource_Overlap(t *testing.T) {
	search := "Prior incident: connection pool exhaustion in checkout after deploys"
	assert.Equal(t, SourceKnowledgeBase, inferSource(hypBlock("connection pool exhaustion suspected", ""), search))
	assert.Equal(t, SourceLLM, inferSource(hypBlock("disk full on kafka broker", ""), search))
	assert.Equal(t, SourceKnowledgeBase, inferSource(hypBlock("disk full on kafka broker", "knowledge_base"), search))
	assert.Equal(t, SourceLLM, inferSource(hypBlock("connection pool exhaustion suspected", "llm"), search))
}
