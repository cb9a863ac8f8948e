package react

import "strings"

// Evidence classes tracked in SessionState.DataCollection. Forced completion
// requires at least one class to be true.
var evidenceClasses = []string{"logs", "metrics", "traces", "changes", "runbooks"}

// toolClasses maps tool names to the evidence classes they collect. Tools not
// listed here contribute no evidence-class bookkeeping.
var toolClasses = map[string][]string{
	"query_logs":         {"logs"},
	"query_metrics":      {"metrics"},
	"query_traces":       {"traces"},
	"query_changes":      {"changes"},
	"search_runbooks":    {"runbooks"},
	"telemetry_snapshot": {"logs", "metrics", "traces"},
}

// noDataPhrases holds the known "nothing found" phrasings per tool. This is
// an advisory heuristic over observation prose, not a correctness invariant:
// a tool whose empty-result phrasing drifts is misclassified as having data.
// TODO: replace with a structured found/payload result from the executors.
var noDataPhrases = map[string][]string{
	"query_logs":         {"no log entries found", "no logs matched"},
	"query_metrics":      {"no metric samples found", "no data points in range"},
	"query_traces":       {"no traces found", "no spans matched"},
	"query_changes":      {"no change records found", "no deployments in window"},
	"search_runbooks":    {"no matching documents", "no runbooks found"},
	"telemetry_snapshot": {"no telemetry available"},
}

// classesForTool returns the evidence classes a tool collects, nil for
// unknown tools.
func classesForTool(name string) []string { return toolClasses[name] }

// dataAvailable reports whether an observation from the named tool looks like
// it actually contains data, per the tool's known no-data phrases.
func dataAvailable(toolName, observation string) bool {
	obs := strings.ToLower(observation)
	if strings.TrimSpace(obs) == "" {
		return false
	}
	for _, phrase := range noDataPhrases[toolName] {
		if strings.Contains(obs, phrase) {
			return false
		}
	}
	return true
}
