// Package sandbox runs untrusted analysis scripts in embedded JavaScript
// interpreters.
//
// Each run gets a fresh interpreter with a restricted namespace: the loaded
// datasets, the charting, numeric, and statistics modules, console capture,
// and caller-supplied variables. Module resolution goes through an allowlist
// resolver, dynamic evaluation is disabled, and runs are dispatched to a
// bounded worker pool under a wall-clock budget. Cancellation on timeout is
// advisory: the interpreter is interrupted and the run abandoned, but a
// tight native loop can finish on its own time after the caller has moved
// on.
//
// Usage:
//
//	executor := sandbox.NewExecutor(logger, &sandbox.Config{TimeoutSec: 30, MaxWorkers: 4}, cache, val)
//	outcome := executor.Execute(ctx, sandbox.Request{
//	    Source:       "result = df.length;",
//	    DatasetPaths: []string{"/data/sales.csv"},
//	})
package sandbox
