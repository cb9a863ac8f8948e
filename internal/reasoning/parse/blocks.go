package parse

import (
	"regexp"
	"strings"
)

// HypothesisBlock is one raw hypothesis proposal extracted from a
// Tree-of-Thought response. Confidence is the raw parsed value; the
// hypothesis generator owns normalization and source inference.
type HypothesisBlock struct {
	Description   string
	Confidence    float64
	ConfidenceSet bool
	Reasoning     string
	Source        string
}

// EvaluationBlock is the raw verdict extracted from an evaluator response.
type EvaluationBlock struct {
	Status        string
	Confidence    float64
	ConfidenceSet bool
	Reasoning     string
}

var (
	hypothesisSplitRe = regexp.MustCompile(`(?mi)^\s*Hypothesis(?:\s+\d+)?\s*:\s*$`)
	fieldRe           = regexp.MustCompile(`(?mi)^\s*(Description|Confidence|Reasoning|Source|Status):\s*(.+)$`)
	actionItemRe      = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
	actionsHeaderRe   = regexp.MustCompile(`(?mi)^\s*Recommended Actions:\s*$`)
)

// ParseHypotheses extracts up to max hypothesis blocks from a model response.
// Blocks missing a Description are dropped; everything else degrades to
// zero values the caller can fill in.
func ParseHypotheses(raw string, max int) []HypothesisBlock {
	sections := hypothesisSplitRe.Split(raw, -1)
	if len(sections) < 2 {
		return nil
	}

	var out []HypothesisBlock
	for _, section := range sections[1:] {
		if max > 0 && len(out) >= max {
			break
		}
		block, ok := parseHypothesisFields(section)
		if ok {
			out = append(out, block)
		}
	}
	return out
}

func parseHypothesisFields(section string) (HypothesisBlock, bool) {
	var block HypothesisBlock
	for _, m := range fieldRe.FindAllStringSubmatch(section, -1) {
		value := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "description":
			block.Description = value
		case "confidence":
			if v, ok := ParseConfidence(value); ok {
				block.Confidence = v
				block.ConfidenceSet = true
			}
		case "reasoning":
			block.Reasoning = value
		case "source":
			block.Source = strings.ToLower(value)
		}
	}
	return block, block.Description != ""
}

// ParseEvaluation extracts the status/confidence/reasoning verdict from an
// evaluator response. ok=false when no recognizable Status field is present.
func ParseEvaluation(raw string) (EvaluationBlock, bool) {
	var block EvaluationBlock
	for _, m := range fieldRe.FindAllStringSubmatch(raw, -1) {
		value := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "status":
			block.Status = strings.ToLower(value)
		case "confidence":
			if v, ok := ParseConfidence(value); ok {
				block.Confidence = v
				block.ConfidenceSet = true
			}
		case "reasoning":
			block.Reasoning = value
		}
	}

	switch block.Status {
	case "confirmed", "rejected", "inconclusive":
		return block, true
	}
	return block, false
}

// ParseRecommendedActions extracts the bullet list following a
// "Recommended Actions:" header. Returns nil when the header or any list
// items are missing; the orchestrator substitutes its fixed fallback list.
func ParseRecommendedActions(raw string) []string {
	loc := actionsHeaderRe.FindStringIndex(raw)
	if loc == nil {
		return nil
	}

	var out []string
	for _, m := range actionItemRe.FindAllStringSubmatch(raw[loc[1]:], -1) {
		item := strings.TrimSpace(m[1])
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
