package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// kpiTimeoutSec bounds each extraction expression. KPI expressions are
// single statements, so they get a short budget independent of the
// configured default.
const kpiTimeoutSec = 10

// KPIExpression is one named extraction: Extract is a single expression
// evaluated against the loaded datasets.
type KPIExpression struct {
	Label   string `json:"label"`
	Extract string `json:"extract"`
}

// KPIResult carries one extracted value or the error that prevented it.
type KPIResult struct {
	Label   string `json:"label"`
	Value   any    `json:"value,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExtractKPIs evaluates each expression as its own sandboxed run against
// the same datasets. A failed expression records its error and does not
// stop the rest.
func (e *Executor) ExtractKPIs(ctx context.Context, paths []string, exprs []KPIExpression) []KPIResult {
	results := make([]KPIResult, 0, len(exprs))
	for _, expr := range exprs {
		outcome := e.Execute(ctx, Request{
			Source:       fmt.Sprintf("result = (%s);", expr.Extract),
			DatasetPaths: paths,
			TimeoutSec:   kpiTimeoutSec,
		})
		if outcome.Success {
			results = append(results, KPIResult{Label: expr.Label, Value: outcome.Result, Success: true})
			continue
		}
		e.logger.Debug("kpi extraction failed",
			zap.String("label", expr.Label),
			zap.String("error", outcome.Error))
		results = append(results, KPIResult{Label: expr.Label, Error: outcome.Error})
	}
	return results
}
