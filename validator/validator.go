package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/parser"
	"go.uber.org/zap"
)

// Result is the outcome of a validation run. When Valid is false, Errors is
// non-empty. CleanedCode always carries the source the executor should run:
// the original when untouched, the repaired or rewritten form otherwise.
type Result struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	CleanedCode string   `json:"cleaned_code,omitempty"`
}

// Modules that scripts may not import under any alias. These cover process,
// filesystem, network, and introspection surfaces of a host runtime.
var blockedModules = map[string]bool{
	"fs": true, "child_process": true, "os": true, "net": true,
	"http": true, "https": true, "http2": true, "dns": true, "tls": true,
	"dgram": true, "cluster": true, "worker_threads": true, "process": true,
	"vm": true, "repl": true, "module": true, "inspector": true,
	"readline": true, "path": true, "v8": true, "perf_hooks": true,
}

var (
	requireCallPattern   = regexp.MustCompile(`\brequire\s*\(\s*['"]([A-Za-z0-9_@:/.\-]+)['"]`)
	importStmtPattern    = regexp.MustCompile(`(?m)^\s*import\b[^'"\n]*['"]([A-Za-z0-9_@:/.\-]+)['"]`)
	dynamicImportPattern = regexp.MustCompile(`\bimport\s*\(\s*['"]([A-Za-z0-9_@:/.\-]+)['"]`)
)

// Direct calls to dynamic-execution and host-access entry points.
var blockedCallPatterns = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\beval\s*\(`), "eval()"},
	{regexp.MustCompile(`\bnew\s+Function\b`), "Function constructor"},
	{regexp.MustCompile(`\bFunction\s*\(`), "Function constructor"},
	{regexp.MustCompile(`\bimport\s*\(\s*[^'"]`), "dynamic import()"},
	{regexp.MustCompile(`\bfetch\s*\(`), "fetch()"},
	{regexp.MustCompile(`\bXMLHttpRequest\b`), "XMLHttpRequest"},
}

// Substring patterns that catch obfuscated forms the call scan misses.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bprocess\.\w+`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`__proto__`),
	regexp.MustCompile(`\.constructor\s*\[`),
	regexp.MustCompile(`\bReflect\.\w+`),
	regexp.MustCompile(`\bProxy\s*\(`),
	regexp.MustCompile(`\brequire\s*\(\s*[^'")]`),
}

// Allocation shapes that would exhaust memory before the timeout can help.
var memoryBombPatterns = []*regexp.Regexp{
	regexp.MustCompile(`new\s+Array\s*\(\s*\d{8,}`),
	regexp.MustCompile(`\bArray\s*\(\s*\d{8,}\s*\)\s*\.fill\b`),
	regexp.MustCompile(`\.repeat\s*\(\s*\d{6,}`),
	regexp.MustCompile(`\bnum\.(?:zeros|ones|empty)\s*\(\s*\d{8,}`),
	regexp.MustCompile(`\bnum\.range\s*\(\s*\d{8,}`),
}

var resultAssignPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bresult\s*=`),
	regexp.MustCompile(`\boutput\s*=`),
	regexp.MustCompile(`\bfig\s*=`),
	regexp.MustCompile(`\bfigure\s*=`),
	regexp.MustCompile(`\bplot\s*=`),
	regexp.MustCompile(`\bchart\s*=`),
	regexp.MustCompile(`\bfig\d+\s*=`),
}

// Validator is the static gate every script passes before execution.
type Validator struct {
	logger *zap.Logger
}

// New creates a Validator.
func New(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate runs the full pipeline: parse gate with auto-repair, security
// gate, memory-safety gate, result-assignment convention check, and the
// chart-API auto-fix. It short-circuits on the first blocking failure.
func (v *Validator) Validate(code string) Result {
	if strings.TrimSpace(code) == "" {
		return Result{Valid: false, Errors: []string{"empty source"}}
	}

	var warnings []string
	cleaned := code

	// 1. Parse gate with auto-repair.
	if parseErr := parseSource(cleaned); parseErr != nil {
		fixed, ok := autoFixSyntax(cleaned)
		if !ok {
			return Result{
				Valid:       false,
				Errors:      []string{fmt.Sprintf("syntax error: %v", parseErr)},
				CleanedCode: cleaned,
			}
		}
		cleaned = fixed
		warnings = append(warnings, fmt.Sprintf("auto-fixed syntax error: %v", parseErr))
	}

	// 2. Security gate.
	if errs := checkSecurity(cleaned); len(errs) > 0 {
		v.logger.Warn("script blocked by security gate", zap.Strings("violations", errs))
		return Result{Valid: false, Errors: errs, Warnings: warnings, CleanedCode: cleaned}
	}

	// 3. Memory-safety gate.
	if err := checkMemorySafety(cleaned); err != "" {
		return Result{Valid: false, Errors: []string{err}, Warnings: warnings, CleanedCode: cleaned}
	}

	// 4. Result-assignment convention (warning only).
	if !hasResultAssignment(cleaned) {
		warnings = append(warnings,
			"script does not assign to 'result', 'output', or 'fig'; results may not be captured")
	}

	// 5. Chart-API auto-fix.
	var fixes []string
	cleaned, fixes = sanitizeChartCalls(cleaned)
	warnings = append(warnings, fixes...)

	return Result{Valid: true, Warnings: warnings, CleanedCode: cleaned}
}

func parseSource(code string) error {
	_, err := parser.ParseFile(nil, "analysis.js", code, 0)
	return err
}

// autoFixSyntax repairs two common generation mistakes: a trailing line
// continuation before an empty or absent line, and unbalanced brackets.
// It returns the repaired source only if the repair actually parses.
func autoFixSyntax(code string) (string, bool) {
	lines := strings.Split(code, "\n")
	fixedLines := make([]string, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			hasNext := i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != ""
			if !hasNext {
				fixedLines = append(fixedLines, strings.TrimRight(trimmed[:len(trimmed)-1], " \t"))
				continue
			}
		}
		fixedLines = append(fixedLines, line)
	}
	fixed := strings.Join(fixedLines, "\n")

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}, {"(", ")"}} {
		opens := strings.Count(fixed, pair[0])
		closes := strings.Count(fixed, pair[1])
		if opens > closes {
			fixed += "\n" + strings.Repeat(pair[1], opens-closes)
		}
	}

	if parseSource(fixed) != nil {
		return "", false
	}
	return fixed, true
}

// checkSecurity collects every violation rather than stopping at the first,
// so the caller sees an itemized reason list.
func checkSecurity(code string) []string {
	var errs []string

	seen := map[string]bool{}
	for _, pattern := range []*regexp.Regexp{requireCallPattern, importStmtPattern, dynamicImportPattern} {
		for _, m := range pattern.FindAllStringSubmatch(code, -1) {
			base := moduleBase(m[1])
			if blockedModules[base] && !seen[m[1]] {
				seen[m[1]] = true
				errs = append(errs, fmt.Sprintf("blocked import: %s", m[1]))
			}
		}
	}

	for _, blocked := range blockedCallPatterns {
		if blocked.pattern.MatchString(code) {
			errs = append(errs, fmt.Sprintf("blocked call: %s", blocked.label))
		}
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(code) {
			errs = append(errs, fmt.Sprintf("dangerous pattern detected: %s", pattern.String()))
		}
	}

	return errs
}

// moduleBase reduces a module specifier to its top-level name: the "node:"
// prefix is stripped and subpaths like "fs/promises" collapse to "fs".
func moduleBase(name string) string {
	name = strings.TrimPrefix(name, "node:")
	if i := strings.IndexByte(name, '/'); i > 0 {
		name = name[:i]
	}
	return name
}

func checkMemorySafety(code string) string {
	for _, pattern := range memoryBombPatterns {
		if m := pattern.FindString(code); m != "" {
			snippet := m
			if len(snippet) > 50 {
				snippet = snippet[:50]
			}
			return fmt.Sprintf("memory safety violation: %s...", snippet)
		}
	}
	return ""
}

func hasResultAssignment(code string) bool {
	for _, pattern := range resultAssignPatterns {
		if pattern.MatchString(code) {
			return true
		}
	}
	return false
}
