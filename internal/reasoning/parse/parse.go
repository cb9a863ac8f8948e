package parse

// Package parse owns the stringly-typed contract between the reasoning loops
// and the LLM. Model output is plain text with regex-delimited blocks
// (Thought / Action / Final Answer / Hypothesis / Status); this package is
// the only place that knows the block format, so prompt-format changes touch
// one seam. Every parser returns a tagged result rather than an error — the
// callers treat unparseable output as a recoverable condition, never a crash.

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ThinkingKind discriminates the parsed form of one THINKING response.
type ThinkingKind string

const (
	// KindAction means the model selected a tool to run.
	KindAction ThinkingKind = "action"

	// KindFinalAnswer means the model produced its final narrative.
	KindFinalAnswer ThinkingKind = "final_answer"

	// KindUnparseable means no action or final answer could be extracted.
	KindUnparseable ThinkingKind = "unparseable"
)

// ActionCall is a tool invocation requested by the model.
type ActionCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Thinking is the tagged union produced from one THINKING response.
type Thinking struct {
	Kind        ThinkingKind `json:"kind"`
	Thought     string       `json:"thought"`
	Action      *ActionCall  `json:"action,omitempty"`
	FinalAnswer string       `json:"final_answer,omitempty"`
}

// headerRe matches the recognized block headers at line start. Longer
// alternatives come first so "Action Input" is not swallowed by "Action".
var headerRe = regexp.MustCompile(`(?mi)^[ \t]*(Final Answer|Action Input|Action|Thought):[ \t]*`)

var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// segments splits raw into header→body pairs in document order.
func segments(raw string) []struct{ header, body string } {
	locs := headerRe.FindAllStringSubmatchIndex(raw, -1)
	out := make([]struct{ header, body string }, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		header := strings.ToLower(raw[loc[2]:loc[3]])
		body := strings.TrimSpace(raw[loc[1]:end])
		out = append(out, struct{ header, body string }{header, body})
	}
	return out
}

// ParseThinking parses a THINKING-phase model response into its tagged form.
// Precedence: a Final Answer block wins over an Action block; a malformed
// Action Input JSON makes the whole response unparseable rather than
// dispatching a tool with garbage parameters.
func ParseThinking(raw string) Thinking {
	out := Thinking{Kind: KindUnparseable}

	var actionTool string
	var actionInput string
	var haveInput bool

	for _, seg := range segments(raw) {
		switch seg.header {
		case "thought":
			if out.Thought == "" {
				out.Thought = seg.body
			}
		case "final answer":
			out.Kind = KindFinalAnswer
			out.FinalAnswer = seg.body
			return out
		case "action":
			if actionTool == "" {
				actionTool = seg.body
			}
		case "action input":
			if !haveInput {
				actionInput = seg.body
				haveInput = true
			}
		}
	}

	if actionTool == "" || !toolNameRe.MatchString(actionTool) {
		return out
	}

	call := &ActionCall{Tool: actionTool, Params: map[string]any{}}
	if haveInput {
		var params map[string]any
		if err := json.Unmarshal([]byte(actionInput), &params); err != nil {
			return out
		}
		call.Params = params
	}

	out.Kind = KindAction
	out.Action = call
	return out
}

// ParseConfidence parses a confidence value leniently: bare floats ("0.8"),
// percentages ("85%" or "85"), and the words high/medium/low are all
// accepted. Returns the raw parsed value and ok=false when nothing numeric
// or word-like was found. Scale normalization (0–100 → 0–1) is the caller's
// concern, not the parser's.
func ParseConfidence(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	switch strings.ToLower(s) {
	case "high":
		return 0.9, true
	case "medium", "moderate":
		return 0.6, true
	case "low":
		return 0.3, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
