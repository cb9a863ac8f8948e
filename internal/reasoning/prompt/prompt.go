package prompt

// Package prompt holds the prompt templates for the reasoning loops.
//
// Responsibilities:
//   - System prompt that defines the assistant's role and output contract
//   - Reaction-loop prompt (context + history + tool menu + format rules)
//   - Tree-of-Thought hypothesis generation prompt
//   - Hypothesis evaluation prompt
//   - Final-answer synthesis and recommended-action prompts
//
// The templates pin down the block format that internal/reasoning/parse
// expects (Thought / Action / Action Input / Final Answer / Hypothesis /
// Status). Changing a template here without updating the parser breaks the
// text contract, which is why both live under internal/reasoning.

import (
	"fmt"
	"strings"

	"github.com/faultline/faultline-ai/internal/tool"
)

// HistoryEntry is one completed reasoning cycle rendered into a prompt.
type HistoryEntry struct {
	Thought     string
	Action      string
	Observation string
}

const systemPrompt = `You are Faultline AI, an expert incident-analysis assistant for production systems.

ROLE:
- Investigate production failures using telemetry evidence (logs, metrics, traces, change audit, runbooks)
- Always explain your reasoning step by step before acting
- Ground every conclusion in evidence you actually collected
- When uncertain, gather more evidence rather than guessing

OUTPUT FORMAT (STRICT):
- To run a tool, reply with exactly:
  Thought: <why this tool, one or two sentences>
  Action: <tool_name>
  Action Input: <JSON object with the tool parameters>
- To finish, reply with exactly:
  Thought: <why the evidence is sufficient>
  Final Answer: <root-cause narrative>
- Never emit more than one Action per reply
- Quote specific services, timestamps, and error messages from the evidence`

// System returns the system prompt for all reasoning invocations.
func System() string { return systemPrompt }

// ThinkingInput carries everything the reaction-loop prompt needs.
type ThinkingInput struct {
	Context    string
	History    []HistoryEntry
	Omitted    int // history items truncated away, 0 when full history shown
	Tools      []tool.Descriptor
	CycleCount int
}

// Thinking renders the reaction-loop prompt for one THINKING invocation.
func Thinking(in ThinkingInput) string {
	var b strings.Builder

	b.WriteString("## Incident\n")
	b.WriteString(in.Context)
	b.WriteString("\n\n## Available Tools\n")
	b.WriteString(RenderToolMenu(in.Tools))

	b.WriteString("\n## Investigation So Far\n")
	if in.Omitted > 0 {
		fmt.Fprintf(&b, "(%d earlier steps omitted for brevity)\n", in.Omitted)
	}
	if len(in.History) == 0 {
		b.WriteString("(no steps taken yet)\n")
	}
	for i, h := range in.History {
		fmt.Fprintf(&b, "Step %d:\nThought: %s\nAction: %s\nObservation: %s\n", i+1, h.Thought, h.Action, h.Observation)
	}

	fmt.Fprintf(&b, "\nYou have completed %d investigation cycles. ", in.CycleCount)
	b.WriteString("Decide the single next step: run one tool, or give the Final Answer if the evidence already identifies the root cause.\n")
	return b.String()
}

// RenderToolMenu renders tool descriptors into the prompt menu, preserving
// registration order.
func RenderToolMenu(tools []tool.Descriptor) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, p := range t.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return b.String()
}

// Hypotheses renders the Tree-of-Thought hypothesis generation prompt.
func Hypotheses(problem, searchResults string, maxHypotheses int) string {
	var b strings.Builder
	b.WriteString("## Incident\n")
	b.WriteString(problem)
	b.WriteString("\n\n## Prior Incidents And Runbooks\n")
	if strings.TrimSpace(searchResults) == "" {
		b.WriteString("(no prior-incident context available)\n")
	} else {
		b.WriteString(searchResults)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `
Propose up to %d distinct root-cause hypotheses for this incident, most likely first.
For each, reply with exactly this block:

Hypothesis:
Description: <one-sentence root-cause statement>
Confidence: <0.0-1.0>
Reasoning: <why this is plausible>
Source: <knowledge_base if grounded in the prior incidents above, otherwise llm>
`, maxHypotheses)
	return b.String()
}

// Evaluation renders the hypothesis evaluation prompt.
func Evaluation(hypothesis, context string, history []HistoryEntry) string {
	var b strings.Builder
	b.WriteString("## Incident\n")
	b.WriteString(context)
	b.WriteString("\n\n## Hypothesis Under Verification\n")
	b.WriteString(hypothesis)
	b.WriteString("\n\n## Evidence Collected\n")
	if len(history) == 0 {
		b.WriteString("(no evidence collected)\n")
	}
	for i, h := range history {
		fmt.Fprintf(&b, "Step %d:\nAction: %s\nObservation: %s\n", i+1, h.Action, h.Observation)
	}
	b.WriteString(`
Judge whether the evidence confirms or rejects the hypothesis. Reply with exactly:

Status: <confirmed | rejected | inconclusive>
Confidence: <0.0-1.0 or high/medium/low>
Reasoning: <which evidence supports the verdict>
`)
	return b.String()
}

// FinalAnswer renders the final-narrative synthesis prompt.
func FinalAnswer(context string, history []HistoryEntry) string {
	var b strings.Builder
	b.WriteString("## Incident\n")
	b.WriteString(context)
	b.WriteString("\n\n## Full Investigation\n")
	for i, h := range history {
		fmt.Fprintf(&b, "Step %d:\nThought: %s\nAction: %s\nObservation: %s\n", i+1, h.Thought, h.Action, h.Observation)
	}
	b.WriteString("\nSynthesize the root-cause narrative for this incident: what failed, why, the evidence chain, and the impact. Be specific about services and timestamps.\n")
	return b.String()
}

// RecommendActions renders the recommended-actions prompt for a final answer.
func RecommendActions(finalAnswer string) string {
	return fmt.Sprintf(`## Root-Cause Narrative
%s

List the concrete remediation steps an on-call engineer should take, most urgent first. Reply with exactly:

Recommended Actions:
- <step>
- <step>
`, finalAnswer)
}
