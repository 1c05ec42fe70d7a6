package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/validator"
)

func newTestExecutor(t *testing.T, cfg *Config) *Executor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if cfg == nil {
		cfg = &Config{TimeoutSec: 10, MaxWorkers: 2}
	}
	executor := NewExecutor(logger, cfg, dataset.NewCache(logger, 10), validator.New(logger))
	t.Cleanup(func() { _ = executor.Shutdown(context.Background()) })
	return executor
}

func writeSalesCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.csv")
	data := "region,revenue,units\nnorth,1200.5,10\nsouth,800.25,7\neast,1500,12\nwest,950.75,9\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestExecuteBasics(t *testing.T) {
	executor := newTestExecutor(t, nil)
	ctx := context.Background()

	t.Run("SimpleResult", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{Source: "result = 1 + 1;"})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		assert.EqualValues(t, 2, outcome.Result.(int64))
		assert.GreaterOrEqual(t, outcome.ElapsedMs, int64(0))
	})

	t.Run("ConsoleCapture", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: "console.log('hello', 42);\nconsole.warn('careful');\nresult = 'ok';",
		})
		require.True(t, outcome.Success)
		assert.Contains(t, outcome.Output, "hello 42")
		assert.Contains(t, outcome.Output, "Stderr:")
		assert.Contains(t, outcome.Output, "careful")
	})

	t.Run("ResultNamePriority", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: "summary = 'second'; result = 'first';",
		})
		require.True(t, outcome.Success)
		assert.Equal(t, "first", outcome.Result)
	})

	t.Run("VariablesInjected", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source:    "result = threshold * 2;",
			Variables: map[string]any{"threshold": 21},
		})
		require.True(t, outcome.Success)
		assert.EqualValues(t, 42, outcome.Result.(int64))
	})

	t.Run("NoResultAssignmentWarns", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{Source: "var x = 1;"})
		require.True(t, outcome.Success)
		assert.Nil(t, outcome.Result)
		require.NotEmpty(t, outcome.Warnings)
		assert.Contains(t, outcome.Warnings[0], "does not assign")
	})
}

func TestExecuteValidationFailures(t *testing.T) {
	executor := newTestExecutor(t, nil)
	ctx := context.Background()

	t.Run("BlockedImport", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{Source: "var fs = require('fs'); result = 1;"})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrValidation, outcome.ErrorKind)
		assert.Contains(t, outcome.Error, "blocked import: fs")
		assert.Equal(t, "Fix the code errors and retry.", outcome.Suggestion)
	})

	t.Run("SyntaxError", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{Source: "var x = = 1;"})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrValidation, outcome.ErrorKind)
	})

	t.Run("MissingDataset", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source:       "result = df.length;",
			DatasetPaths: []string{"/nonexistent/data.csv"},
		})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrFileLoad, outcome.ErrorKind)
		assert.Contains(t, outcome.Error, "failed to load")
		assert.Equal(t, "Check the file path and format.", outcome.Suggestion)
	})
}

func TestExecuteWithDatasets(t *testing.T) {
	executor := newTestExecutor(t, nil)
	ctx := context.Background()

	t.Run("FrameBindings", func(t *testing.T) {
		path := writeSalesCSV(t)
		outcome := executor.Execute(ctx, Request{
			Source: `
result = {
	rows: df.length,
	same: df.length === sales.length,
	viaMapping: datasets.sales.length,
	columns: df.columns,
};
`,
			DatasetPaths: []string{path},
		})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		m := outcome.Result.(map[string]any)
		assert.EqualValues(t, 4, m["rows"].(int64))
		assert.Equal(t, true, m["same"])
		assert.EqualValues(t, 4, m["viaMapping"].(int64))
	})

	t.Run("FrameMethods", func(t *testing.T) {
		path := writeSalesCSV(t)
		outcome := executor.Execute(ctx, Request{
			Source: `
result = {
	mean: df.mean('revenue'),
	total: df.sum('units'),
	top: df.sort('revenue', true).head(1).col('region')[0],
	big: df.filter(function (row) { return row.revenue > 1000; }).length,
	regions: df.unique('region').length,
};
`,
			DatasetPaths: []string{path},
		})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		m := outcome.Result.(map[string]any)
		assert.InDelta(t, 1112.875, m["mean"].(float64), 0.001)
		assert.InDelta(t, 38, m["total"].(float64), 0.001)
		assert.Equal(t, "east", m["top"])
		assert.EqualValues(t, 2, m["big"].(int64))
		assert.EqualValues(t, 4, m["regions"].(int64))
	})

	t.Run("FrameAsResultSerializesAsTable", func(t *testing.T) {
		path := writeSalesCSV(t)
		outcome := executor.Execute(ctx, Request{
			Source:       "result = df.head(2);",
			DatasetPaths: []string{path},
		})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		m := outcome.Result.(map[string]any)
		assert.Equal(t, "dataframe", m["type"])
		assert.Equal(t, 2, m["total_rows"])
	})

	t.Run("UnknownColumnRaisesColumnError", func(t *testing.T) {
		path := writeSalesCSV(t)
		outcome := executor.Execute(ctx, Request{
			Source:       "result = df['revnue'];",
			DatasetPaths: []string{path},
		})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrRuntime, outcome.ErrorKind)
		assert.Equal(t, "ColumnError", outcome.ErrorType)
		// The pre-run column warning becomes the suggestion.
		assert.Contains(t, outcome.Suggestion, "Did you mean 'revenue'?")
		assert.Contains(t, outcome.AvailableColumns, "df")
	})

	t.Run("ColumnInOtherDatasetNamesIt", func(t *testing.T) {
		sales := writeSalesCSV(t)
		costs := filepath.Join(t.TempDir(), "costs.csv")
		require.NoError(t, os.WriteFile(costs,
			[]byte("region,expense\nnorth,300\nsouth,120\n"), 0o600))

		outcome := executor.Execute(ctx, Request{
			Source:       "result = df['expense'];",
			DatasetPaths: []string{sales, costs},
		})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrRuntime, outcome.ErrorKind)
		assert.Equal(t, "ColumnError", outcome.ErrorType)
		assert.Contains(t, outcome.Suggestion, "EXISTS in 'costs'")
		assert.Contains(t, outcome.Suggestion, "costs['expense']")
		assert.Contains(t, outcome.AvailableColumns, "costs")
	})

	t.Run("ColumnWarningIsAdvisoryOnDeadCode", func(t *testing.T) {
		path := writeSalesCSV(t)
		outcome := executor.Execute(ctx, Request{
			Source: `
if (false) {
	var x = df['not_a_column'];
}
result = df.length;
`,
			DatasetPaths: []string{path},
		})
		require.True(t, outcome.Success)
		require.NotEmpty(t, outcome.Warnings)
		assert.Contains(t, outcome.Warnings[0], "not_a_column")
	})
}

func TestExecuteRuntimeErrors(t *testing.T) {
	executor := newTestExecutor(t, nil)
	ctx := context.Background()

	t.Run("ReferenceError", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{Source: "result = missing + 1;"})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrRuntime, outcome.ErrorKind)
		assert.Equal(t, "ReferenceError", outcome.ErrorType)
		assert.Equal(t, 1, outcome.Line)
		assert.Contains(t, outcome.Suggestion, "ReferenceError")
	})

	t.Run("ThrownError", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: "\n\nthrow new TypeError('bad input');",
		})
		require.False(t, outcome.Success)
		assert.Equal(t, "TypeError", outcome.ErrorType)
		assert.Equal(t, 3, outcome.Line)
	})

	t.Run("OutputKeptOnFailure", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: "console.log('before the crash');\nthrow new Error('boom');",
		})
		require.False(t, outcome.Success)
		assert.Contains(t, outcome.Output, "before the crash")
	})

	t.Run("ModuleAllocationCap", func(t *testing.T) {
		// Computed sizes slip past the static scan; the runtime cap holds.
		outcome := executor.Execute(ctx, Request{
			Source: "var num = require('num');\nresult = num.zeros(2 * 10000000);",
		})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrRuntime, outcome.ErrorKind)
		assert.Contains(t, outcome.Error, "allocation limit")
	})

	t.Run("DisallowedRequireAtRuntime", func(t *testing.T) {
		// The name sneaks past the static scan but the resolver rejects it.
		outcome := executor.Execute(ctx, Request{
			Source: "var m = require('left-pad');\nresult = 1;",
		})
		require.False(t, outcome.Success)
		assert.Equal(t, ErrRuntime, outcome.ErrorKind)
		assert.Contains(t, outcome.Error, "not allowed in sandbox")
	})
}

func TestExecuteTimeout(t *testing.T) {
	executor := newTestExecutor(t, &Config{TimeoutSec: 10, MaxWorkers: 2})
	ctx := context.Background()

	outcome := executor.Execute(ctx, Request{
		Source:     "while (true) {}\nresult = 1;",
		TimeoutSec: 1,
	})
	require.False(t, outcome.Success)
	assert.Equal(t, ErrTimeout, outcome.ErrorKind)
	assert.Equal(t, "Execution timed out after 1s", outcome.Error)
	assert.Equal(t, "Simplify the code or increase the timeout.", outcome.Suggestion)
	assert.GreaterOrEqual(t, outcome.ElapsedMs, int64(1000))
}

func TestExecuteConcurrency(t *testing.T) {
	executor := newTestExecutor(t, &Config{TimeoutSec: 10, MaxWorkers: 2})
	ctx := context.Background()

	const runs = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = executor.Execute(ctx, Request{Source: "result = 7 * 6;"})
		}(i)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		require.True(t, outcome.Success, "run %d: %+v", i, outcome)
		assert.EqualValues(t, 42, outcome.Result.(int64))
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	logger := zaptest.NewLogger(t)
	executor := NewExecutor(logger, &Config{TimeoutSec: 5, MaxWorkers: 1},
		dataset.NewCache(logger, 10), validator.New(logger))
	require.NoError(t, executor.Shutdown(context.Background()))

	outcome := executor.Execute(context.Background(), Request{Source: "result = 1;"})
	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "shutting down")
}

func TestFigureExtraction(t *testing.T) {
	executor := newTestExecutor(t, nil)
	ctx := context.Background()

	t.Run("NumberedNamesInOrder", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: `
var plot = require('plot');
fig1 = plot.bar([1, 2], [3, 4], { title: 'first' });
fig2 = plot.line([1, 2], [5, 6], { title: 'second' });
result = 'ok';
`,
		})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		require.Len(t, outcome.Figures, 2)
		assert.Equal(t, "fig1", outcome.Figures[0].Name)
		assert.Equal(t, "fig2", outcome.Figures[1].Name)
	})

	t.Run("AliasedFigureEmittedOnce", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: `
var plot = require('plot');
fig1 = plot.bar([1], [2]);
chart = fig1;
result = 'ok';
`,
		})
		require.True(t, outcome.Success)
		require.Len(t, outcome.Figures, 1)
		assert.Equal(t, "fig1", outcome.Figures[0].Name)
	})

	t.Run("MarginsNormalized", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: `
var plot = require('plot');
fig = plot.bar([1], [2]);
fig.updateLayout({ margin: { l: 10, t: 200 } });
result = 'ok';
`,
		})
		require.True(t, outcome.Success, "outcome: %+v", outcome)
		require.Len(t, outcome.Figures, 1)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(outcome.Figures[0].JSON), &payload))
		layout := payload["layout"].(map[string]any)
		margin := layout["margin"].(map[string]any)
		assert.EqualValues(t, 80, margin["l"])
		assert.EqualValues(t, 200, margin["t"])
		assert.Equal(t, true, layout["autosize"])
	})

	t.Run("ChartAsResultBecomesFigureOnly", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: `
var plot = require('plot');
result = plot.pie(['a', 'b'], [1, 2]);
`,
		})
		require.True(t, outcome.Success)
		// A chart never doubles as the primary result.
		assert.Nil(t, outcome.Result)
		require.Len(t, outcome.Figures, 1)
		assert.Equal(t, "result", outcome.Figures[0].Name)
	})

	t.Run("SweepFindsArbitraryNames", func(t *testing.T) {
		outcome := executor.Execute(ctx, Request{
			Source: `
var plot = require('plot');
myVisualization = plot.histogram([1, 1, 2, 3]);
result = 'ok';
`,
		})
		require.True(t, outcome.Success)
		require.Len(t, outcome.Figures, 1)
		assert.Equal(t, "myVisualization", outcome.Figures[0].Name)
	})
}

func TestExtractKPIs(t *testing.T) {
	executor := newTestExecutor(t, nil)
	path := writeSalesCSV(t)

	results := executor.ExtractKPIs(context.Background(), []string{path}, []KPIExpression{
		{Label: "total_units", Extract: "df.sum('units')"},
		{Label: "row_count", Extract: "df.length"},
		{Label: "broken", Extract: "df['no_such_column']"},
	})
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.InDelta(t, 38, results[0].Value.(float64), 0.001)

	assert.True(t, results[1].Success)
	assert.EqualValues(t, 4, results[1].Value.(int64))

	assert.False(t, results[2].Success)
	assert.NotEmpty(t, results[2].Error)
}
