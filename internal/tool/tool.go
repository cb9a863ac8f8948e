package tool

import "context"

// Package tool provides the capability registry consumed by the reasoning
// loops. A tool is a named, independently registered capability that returns
// evidence text given parameters; side effects (querying telemetry) happen
// entirely inside the executor and are opaque to the caller.

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Descriptor describes a registered tool. Immutable once registered.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"` // ordered
}

// Executor runs a tool with the given parameters and returns an observation
// string. By convention executors render their own failures as human-readable
// text; errors returned here are surfaced to the caller, which decides
// whether to propagate or fold them into an observation.
type Executor func(ctx context.Context, params map[string]any) (string, error)
