package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/figure"
	"github.com/isdmx/databox/serializer"
	"github.com/isdmx/databox/validator"
)

// resultNames are checked in order for the run's primary result.
var resultNames = []string{"result", "output", "summary", "analysis"}

// numberedFigPattern matches explicitly numbered chart bindings (fig1,
// chart2), collected before the fixed names and the global sweep.
var numberedFigPattern = regexp.MustCompile(`^(fig|figure|plot|chart)\d+$`)

// fixedFigNames are the unnumbered chart bindings checked after the
// numbered ones.
var fixedFigNames = []string{"fig", "figure", "plot", "chart", "result", "output"}

// scriptLinePattern extracts the first script line number from a stack
// trace.
var scriptLinePattern = regexp.MustCompile(`analysis\.js:(\d+)`)

// Executor validates, schedules, and runs analysis scripts.
type Executor struct {
	logger    *zap.Logger
	config    *Config
	cache     *dataset.Cache
	validator *validator.Validator
	pool      *workerPool
}

var _ ScriptExecutor = (*Executor)(nil)

// NewExecutor builds an executor with a started worker pool. Shutdown must
// be called to drain it.
func NewExecutor(logger *zap.Logger, config *Config, cache *dataset.Cache, val *validator.Validator) *Executor {
	return &Executor{
		logger:    logger,
		config:    config,
		cache:     cache,
		validator: val,
		pool:      newWorkerPool(logger, config.MaxWorkers),
	}
}

// Shutdown stops accepting runs and waits for in-flight ones to drain.
func (e *Executor) Shutdown(ctx context.Context) error {
	return e.pool.shutdown(ctx)
}

type boundDataset struct {
	name string
	ds   *dataset.Dataset
}

// Execute runs one script through the full pipeline: static validation,
// dataset loading, column cross-check, sandboxed execution under the
// wall-clock budget, and artifact extraction.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()
	timeout := time.Duration(req.TimeoutSec) * time.Second
	if req.TimeoutSec <= 0 {
		timeout = time.Duration(e.config.TimeoutSec) * time.Second
	}

	vr := e.validator.Validate(req.Source)
	warnings := append([]string(nil), vr.Warnings...)
	if !vr.Valid {
		e.logger.Debug("script rejected by validation", zap.Strings("errors", vr.Errors))
		return Outcome{
			ErrorKind:  ErrValidation,
			Error:      strings.Join(vr.Errors, "; "),
			Suggestion: "Fix the code errors and retry.",
			Warnings:   warnings,
			ElapsedMs:  elapsedMs(start),
		}
	}
	source := vr.CleanedCode

	bound, colMap, err := e.loadDatasets(req.DatasetPaths)
	if err != nil {
		return Outcome{
			ErrorKind:  ErrFileLoad,
			Error:      err.Error(),
			Suggestion: "Check the file path and format.",
			Warnings:   warnings,
			ElapsedMs:  elapsedMs(start),
		}
	}
	warnings = append(warnings, e.validator.ValidateColumns(source, colMap)...)

	program, err := goja.Compile("analysis.js", source, false)
	if err != nil {
		return Outcome{
			ErrorKind:  ErrValidation,
			Error:      err.Error(),
			Suggestion: "Fix the code errors and retry.",
			Warnings:   warnings,
			ElapsedMs:  elapsedMs(start),
		}
	}

	env := newRunEnv()
	e.bindNamespace(env, bound, req.Variables)

	var runErr error
	j := newJob(func() {
		_, runErr = env.vm.RunProgram(program)
	})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	submitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.pool.submit(submitCtx, j); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return Outcome{
				ErrorKind: ErrRuntime,
				Error:     err.Error(),
				Warnings:  warnings,
				ElapsedMs: elapsedMs(start),
			}
		}
		return e.timeoutOutcome(timeout, warnings, start)
	}

	select {
	case <-j.done:
	case <-deadline.C:
		j.abandoned.Store(true)
		env.vm.Interrupt("execution timed out")
		return e.timeoutOutcome(timeout, warnings, start)
	case <-ctx.Done():
		j.abandoned.Store(true)
		env.vm.Interrupt("execution canceled")
		return Outcome{
			ErrorKind: ErrTimeout,
			Error:     fmt.Sprintf("execution canceled: %v", ctx.Err()),
			Warnings:  warnings,
			ElapsedMs: elapsedMs(start),
		}
	}

	output := env.capturedOutput()
	if runErr != nil {
		return e.runtimeOutcome(runErr, output, warnings, colMap, start)
	}

	result, figures := extractArtifacts(env)
	e.logger.Debug("script completed",
		zap.Int("figures", len(figures)),
		zap.Int64("elapsed_ms", elapsedMs(start)))
	return Outcome{
		Success:   true,
		Result:    serializer.Serialize(result),
		Output:    output,
		Figures:   figures,
		Warnings:  warnings,
		ElapsedMs: elapsedMs(start),
	}
}

// loadDatasets pulls every requested path through the cache and decides the
// namespace bindings: the first dataset as "df", each dataset also under
// its filename-derived name.
func (e *Executor) loadDatasets(paths []string) ([]boundDataset, map[string][]string, error) {
	var bound []boundDataset
	colMap := make(map[string][]string)

	add := func(name string, ds *dataset.Dataset) {
		for _, b := range bound {
			if b.name == name {
				return
			}
		}
		bound = append(bound, boundDataset{name: name, ds: ds})
		colMap[name] = append([]string(nil), ds.Columns...)
	}

	for i, path := range paths {
		ds, err := e.cache.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if i == 0 {
			add("df", ds)
		}
		if name := dataset.BindName(path); name != "" {
			add(name, ds)
		}
	}
	return bound, colMap, nil
}

// bindNamespace installs the dataset frames, the consolidated "datasets"
// mapping, and caller variables. Variables go last so they can shadow the
// defaults.
func (e *Executor) bindNamespace(env *runEnv, bound []boundDataset, variables map[string]any) {
	all := env.vm.NewObject()
	for _, b := range bound {
		obj := newFrameValue(env, b.name, b.ds)
		_ = env.vm.Set(b.name, obj)
		_ = all.Set(b.name, obj)
	}
	_ = env.vm.Set("datasets", all)

	for k, v := range variables {
		_ = env.vm.Set(k, v)
	}
}

func (e *Executor) timeoutOutcome(timeout time.Duration, warnings []string, start time.Time) Outcome {
	e.logger.Warn("script abandoned on timeout", zap.Duration("timeout", timeout))
	return Outcome{
		ErrorKind:  ErrTimeout,
		Error:      fmt.Sprintf("Execution timed out after %ds", int(timeout.Seconds())),
		Suggestion: "Simplify the code or increase the timeout.",
		Warnings:   warnings,
		ElapsedMs:  elapsedMs(start),
	}
}

// runtimeOutcome shapes a script exception into a structured error: the
// error name and message, the first script line from the stack, and a
// suggestion assembled from the column warnings when the failure looks like
// a column lookup.
func (e *Executor) runtimeOutcome(runErr error, output string, warnings []string, colMap map[string][]string, start time.Time) Outcome {
	name, message, stack := describeException(runErr)

	suggestion := ""
	if strings.Contains(name, "Column") || strings.Contains(name, "Key") {
		var columnHints []string
		for _, w := range warnings {
			if strings.Contains(w, "Column") {
				columnHints = append(columnHints, w)
			}
		}
		if len(columnHints) > 0 {
			suggestion = strings.Join(columnHints, " | ")
		}
	}
	if suggestion == "" {
		suggestion = fmt.Sprintf("Check the %s and fix accordingly.", name)
	}

	e.logger.Debug("script failed",
		zap.String("error_type", name),
		zap.String("message", message))
	return Outcome{
		ErrorKind:        ErrRuntime,
		ErrorType:        name,
		Error:            stack,
		Output:           output,
		Suggestion:       suggestion,
		Warnings:         warnings,
		AvailableColumns: colMap,
		Line:             extractLine(stack),
		ElapsedMs:        elapsedMs(start),
	}
}

// describeException pulls the error name, message, and stack out of a VM
// exception. Non-exception errors degrade to a generic Error.
func describeException(err error) (name, message, stack string) {
	name = "Error"
	message = err.Error()
	stack = message

	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return name, message, stack
	}
	stack = exc.String()
	val := exc.Value()
	if obj, ok := val.(*goja.Object); ok {
		if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
			name = v.String()
		}
		if v := obj.Get("message"); v != nil && !goja.IsUndefined(v) {
			message = v.String()
		}
	} else if val != nil {
		message = val.String()
	}
	return name, message, stack
}

func extractLine(stack string) int {
	m := scriptLinePattern.FindStringSubmatch(stack)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// capturedOutput joins the stdout and stderr streams the way callers see
// them: stdout first, stderr under its own banner.
func (e *runEnv) capturedOutput() string {
	out := e.stdout.String()
	if e.stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "Stderr:\n" + e.stderr.String()
	}
	return out
}

// extractArtifacts walks the finished namespace for the primary result and
// the chart artifacts. Charts are collected in three passes (numbered
// names, fixed names, global sweep) with pointer-identity dedup so a chart
// bound under several names is emitted once. Oversized charts keep their
// slot with an error in the named passes and are skipped by the sweep.
func extractArtifacts(env *runEnv) (any, []FigureArtifact) {
	global := env.vm.GlobalObject()
	keys := global.Keys()

	resolve := func(name string) (goja.Value, any) {
		v := global.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, nil
		}
		if obj, ok := v.(*goja.Object); ok {
			if ds, bound := env.frames[obj]; bound {
				return v, ds
			}
		}
		return v, v.Export()
	}

	var result any
	for _, name := range resultNames {
		_, exported := resolve(name)
		if exported == nil {
			continue
		}
		if _, isChart := exported.(figure.Chart); isChart {
			continue
		}
		result = exported
		break
	}

	var named []string
	for _, k := range keys {
		if numberedFigPattern.MatchString(k) {
			named = append(named, k)
		}
	}
	for _, k := range fixedFigNames {
		if !containsString(named, k) {
			named = append(named, k)
		}
	}

	seen := make(map[figure.Chart]bool)
	var artifacts []FigureArtifact

	collect := func(name string, keepOversized bool) {
		_, exported := resolve(name)
		chart, ok := exported.(figure.Chart)
		if !ok || seen[chart] {
			return
		}
		seen[chart] = true
		chart.EnsureMinMargins(figure.MinMargins)
		payload := serializer.EncodeFigure(chart)
		if payload.Error != "" && !keepOversized {
			return
		}
		artifacts = append(artifacts, FigureArtifact{
			Name:      name,
			JSON:      payload.JSON,
			SizeBytes: payload.SizeBytes,
			Error:     payload.Error,
		})
	}

	for _, name := range named {
		collect(name, true)
	}
	for _, k := range keys {
		collect(k, false)
	}

	return result, artifacts
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
