// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes tools
// for sandboxed data analysis. It uses the mark3labs/mcp-go library to handle
// the protocol details and provides run_analysis_script as the primary
// interface, alongside validation, dataset inspection, and KPI extraction
// tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/databox/config"
	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/sandbox"
	"github.com/isdmx/databox/validator"
)

// Executor is the execution surface the server needs.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Outcome
	ExtractKPIs(ctx context.Context, paths []string, exprs []sandbox.KPIExpression) []sandbox.KPIResult
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  Executor
	validator *validator.Validator
	cache     *dataset.Cache
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor Executor, val *validator.Validator, cache *dataset.Cache) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		executor:  executor,
		validator: val,
		cache:     cache,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("executor.timeout_sec", s.config.Executor.TimeoutSec),
		zap.Int("executor.max_workers", s.config.Executor.MaxWorkers),
		zap.Int("cache.max_entries", s.config.Cache.MaxEntries),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("databox-analyzer", "A sandboxed data analysis server")

	s.registerRunAnalysisScriptTool()
	s.registerValidateAnalysisScriptTool()
	s.registerInspectDatasetTool()
	s.registerExtractKPIsTool()

	return s, nil
}

func (s *MCPServer) registerRunAnalysisScriptTool() {
	tool := mcp.Tool{
		Name:        "run_analysis_script",
		Description: "Execute an analysis script against the given datasets in a sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Analysis script source",
				},
				"dataset_paths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Paths of datasets to load; the first is bound as 'df'",
				},
				"variables": map[string]any{
					"type":        "object",
					"description": "Extra variables injected into the script namespace (optional)",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Wall-clock budget in seconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunAnalysisScript)
}

func (s *MCPServer) handleRunAnalysisScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	args := request.GetArguments()
	paths := stringList(args["dataset_paths"])
	variables, _ := args["variables"].(map[string]any)
	timeoutSec := intArg(args["timeout_sec"])

	s.logger.Info("script execution requested",
		zap.Int("datasets", len(paths)),
		zap.Int("timeout_sec", timeoutSec))

	outcome := s.executor.Execute(ctx, sandbox.Request{
		Source:       code,
		DatasetPaths: paths,
		Variables:    variables,
		TimeoutSec:   timeoutSec,
	})

	s.logger.Info("script execution completed",
		zap.Bool("success", outcome.Success),
		zap.String("error_kind", string(outcome.ErrorKind)),
		zap.Int64("elapsed_ms", outcome.ElapsedMs))

	return jsonResult(outcome)
}

func (s *MCPServer) registerValidateAnalysisScriptTool() {
	tool := mcp.Tool{
		Name:        "validate_analysis_script",
		Description: "Validate an analysis script without executing it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Analysis script source",
				},
				"dataset_paths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Datasets used to cross-check column references (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleValidateAnalysisScript)
}

func (s *MCPServer) handleValidateAnalysisScript(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	result := s.validator.Validate(code)

	// Column references can only be checked against datasets that load.
	args := request.GetArguments()
	colMap := make(map[string][]string)
	for i, path := range stringList(args["dataset_paths"]) {
		ds, loadErr := s.cache.Load(path)
		if loadErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not load %s: %v", path, loadErr))
			continue
		}
		if i == 0 {
			colMap["df"] = ds.Columns
		}
		if name := dataset.BindName(path); name != "" {
			colMap[name] = ds.Columns
		}
	}
	if len(colMap) > 0 && result.Valid {
		result.Warnings = append(result.Warnings, s.validator.ValidateColumns(result.CleanedCode, colMap)...)
	}

	return jsonResult(result)
}

func (s *MCPServer) registerInspectDatasetTool() {
	tool := mcp.Tool{
		Name:        "inspect_dataset",
		Description: "Describe a dataset: shape, columns, types, and per-column statistics",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Dataset file path (csv or xlsx)",
				},
				"column": map[string]any{
					"type":        "string",
					"description": "Inspect a single column in detail (optional)",
				},
				"sample_size": map[string]any{
					"type":        "integer",
					"description": "Number of sample values for column inspection (optional)",
				},
			},
			Required: []string{"path"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleInspectDataset)
}

func (s *MCPServer) handleInspectDataset(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}

	ds, err := s.cache.Load(path)
	if err != nil {
		s.logger.Warn("dataset inspection failed", zap.String("path", path), zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to load dataset: %v", err))
	}

	column := request.GetString("column", "")
	if column == "" {
		return jsonResult(ds.Metadata(dataset.BindName(path)))
	}

	sampleSize := request.GetInt("sample_size", 10)
	info, err := ds.Inspect(column, sampleSize)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(info)
}

func (s *MCPServer) registerExtractKPIsTool() {
	tool := mcp.Tool{
		Name:        "extract_kpis",
		Description: "Evaluate named extraction expressions against the given datasets",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"dataset_paths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Paths of datasets to load; the first is bound as 'df'",
				},
				"kpis": map[string]any{
					"type":        "array",
					"description": "Expressions to evaluate, each {label, extract}",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"label":   map[string]any{"type": "string"},
							"extract": map[string]any{"type": "string"},
						},
						"required": []string{"label", "extract"},
					},
				},
			},
			Required: []string{"dataset_paths", "kpis"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExtractKPIs)
}

func (s *MCPServer) handleExtractKPIs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	paths := stringList(args["dataset_paths"])
	if len(paths) == 0 {
		return nil, fmt.Errorf("dataset_paths parameter is required")
	}

	rawKPIs, _ := args["kpis"].([]any)
	var exprs []sandbox.KPIExpression
	for _, raw := range rawKPIs {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := item["label"].(string)
		extract, _ := item["extract"].(string)
		if label == "" || extract == "" {
			continue
		}
		exprs = append(exprs, sandbox.KPIExpression{Label: label, Extract: extract})
	}
	if len(exprs) == 0 {
		return nil, fmt.Errorf("kpis parameter must contain at least one {label, extract} entry")
	}

	s.logger.Info("kpi extraction requested",
		zap.Int("datasets", len(paths)),
		zap.Int("expressions", len(exprs)))

	results := s.executor.ExtractKPIs(ctx, paths, exprs)
	return jsonResult(map[string]any{"kpis": results})
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(encoded)},
		},
	}, nil
}

func errorResult(msg string) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intArg(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
