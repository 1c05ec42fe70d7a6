package sandbox

import (
	"context"
)

// ErrorKind classifies a failed execution.
type ErrorKind string

// Error kinds carried by Outcome. Validation and file-load failures happen
// before any script runs; a timeout means the wall-clock budget elapsed and
// the run's final state is unknown; runtime is any exception the script
// raised.
const (
	ErrValidation ErrorKind = "validation"
	ErrFileLoad   ErrorKind = "file_load"
	ErrTimeout    ErrorKind = "timeout"
	ErrRuntime    ErrorKind = "runtime"
)

// Config holds executor tunables.
type Config struct {
	TimeoutSec int
	MaxWorkers int
}

// Request represents the parameters for one script execution.
type Request struct {
	// Source is the analysis script.
	Source string
	// DatasetPaths are loaded through the dataset cache. The first path is
	// bound as "df"; every path is also bound under a name derived from its
	// filename.
	DatasetPaths []string
	// Variables are caller-supplied bindings injected into the namespace
	// last, so they may shadow the default bindings.
	Variables map[string]any
	// TimeoutSec overrides the configured default when positive.
	TimeoutSec int
}

// FigureArtifact is one chart extracted from a finished run. An oversized
// or unencodable chart keeps its entry with Error set and no payload.
type FigureArtifact struct {
	Name      string `json:"name"`
	JSON      string `json:"json,omitempty"`
	SizeBytes int    `json:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome represents the structured result of one execution. Every outcome
// carries elapsed time and the accumulated advisory warnings, success or
// not.
type Outcome struct {
	Success          bool                `json:"success"`
	Result           any                 `json:"result,omitempty"`
	Output           string              `json:"output"`
	Figures          []FigureArtifact    `json:"figures,omitempty"`
	ErrorKind        ErrorKind           `json:"error_kind,omitempty"`
	ErrorType        string              `json:"error_type,omitempty"`
	Error            string              `json:"error,omitempty"`
	Suggestion       string              `json:"suggestion,omitempty"`
	ElapsedMs        int64               `json:"execution_time_ms"`
	Warnings         []string            `json:"warnings,omitempty"`
	AvailableColumns map[string][]string `json:"available_columns,omitempty"`
	Line             int                 `json:"line_number,omitempty"`
}

// ScriptExecutor defines the interface for sandboxed script execution.
type ScriptExecutor interface {
	Execute(ctx context.Context, req Request) Outcome
}
