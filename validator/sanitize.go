package validator

import (
	"fmt"
	"regexp"
)

// Known chart-API mistakes rewritten before execution. Generated scripts
// regularly use the singular method names or invalid enum strings; running
// them unchanged would fail on an otherwise sound analysis.
var chartMethodFixes = []struct {
	pattern     *regexp.Regexp
	replacement string
	corrected   string
}{
	{regexp.MustCompile(`\.updateXAxis\s*\(`), ".updateXAxes(", "updateXAxes"},
	{regexp.MustCompile(`\.updateYAxis\s*\(`), ".updateYAxes(", "updateYAxes"},
	{regexp.MustCompile(`\.updateTrace\s*\(`), ".updateTraces(", "updateTraces"},
	{regexp.MustCompile(`\.updateAnnotation\s*\(`), ".updateAnnotations(", "updateAnnotations"},
}

var annotationPositionFixes = []struct {
	pattern     *regexp.Regexp
	replacement string
	from, to    string
}{
	{regexp.MustCompile(`(annotationPosition\s*:\s*)["']middle right["']`), `${1}"top right"`, "middle right", "top right"},
	{regexp.MustCompile(`(annotationPosition\s*:\s*)["']middle left["']`), `${1}"top left"`, "middle left", "top left"},
	{regexp.MustCompile(`(annotationPosition\s*:\s*)["']center["']`), `${1}"top"`, "center", "top"},
}

var dashStyleFixes = []struct {
	pattern     *regexp.Regexp
	replacement string
	from, to    string
}{
	{regexp.MustCompile(`(\bdash\s*:\s*)["']dashed["']`), `${1}"dash"`, "dashed", "dash"},
	{regexp.MustCompile(`(\bdash\s*:\s*)["']dotted["']`), `${1}"dot"`, "dotted", "dot"},
}

// sanitizeChartCalls rewrites known chart-API mistakes and reports each fix
// as a warning. The returned source is what the sandbox executes.
func sanitizeChartCalls(code string) (string, []string) {
	var fixes []string
	sanitized := code

	for _, fix := range chartMethodFixes {
		if fix.pattern.MatchString(sanitized) {
			sanitized = fix.pattern.ReplaceAllString(sanitized, fix.replacement)
			fixes = append(fixes, fmt.Sprintf("fixed chart method: -> %s", fix.corrected))
		}
	}
	for _, fix := range annotationPositionFixes {
		if fix.pattern.MatchString(sanitized) {
			sanitized = fix.pattern.ReplaceAllString(sanitized, fix.replacement)
			fixes = append(fixes, fmt.Sprintf("fixed annotationPosition: %q -> %q", fix.from, fix.to))
		}
	}
	for _, fix := range dashStyleFixes {
		if fix.pattern.MatchString(sanitized) {
			sanitized = fix.pattern.ReplaceAllString(sanitized, fix.replacement)
			fixes = append(fixes, fmt.Sprintf("fixed dash style: %q -> %q", fix.from, fix.to))
		}
	}

	return sanitized, fixes
}
