package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// fuzzyCutoff is the minimum similarity ratio for a column suggestion.
const fuzzyCutoff = 0.6

// frameMethods are data-frame operations excluded from dot-access column
// detection, mirroring the sandbox frame API plus engine probe names.
var frameMethods = map[string]bool{
	"head": true, "tail": true, "columns": true, "length": true, "rows": true,
	"col": true, "select": true, "describe": true, "sum": true, "mean": true,
	"median": true, "min": true, "max": true, "count": true, "unique": true,
	"sort": true, "filter": true, "toString": true, "toJSON": true,
	"valueOf": true, "constructor": true,
}

// ValidateColumns finds bracket-style (name['col']) and attribute-style
// (name.col) column references for each known frame and warns about names
// the frame does not have. When the column exists in another frame the
// warning names it; otherwise the closest fuzzy match across all frames is
// suggested, falling back to a listing of available columns. Advisory only.
func (v *Validator) ValidateColumns(code string, columnsByFrame map[string][]string) []string {
	var warnings []string

	hasColumns := false
	for _, cols := range columnsByFrame {
		if len(cols) > 0 {
			hasColumns = true
			break
		}
	}
	if !hasColumns {
		return warnings
	}

	for frameName, columns := range columnsByFrame {
		if len(columns) == 0 {
			continue
		}
		known := make(map[string]bool, len(columns))
		for _, c := range columns {
			known[c] = true
		}

		for _, col := range referencedColumns(code, frameName) {
			if known[col] {
				continue
			}

			foundIn := ""
			for otherFrame, otherCols := range columnsByFrame {
				if otherFrame == frameName {
					continue
				}
				for _, c := range otherCols {
					if c == col {
						foundIn = otherFrame
						break
					}
				}
				if foundIn != "" {
					break
				}
			}

			if foundIn != "" {
				warnings = append(warnings, fmt.Sprintf(
					"Column '%s' NOT in '%s' but EXISTS in '%s'. Use %s['%s'] instead.",
					col, frameName, foundIn, foundIn, col))
				continue
			}

			var allColumns []string
			for _, cols := range columnsByFrame {
				allColumns = append(allColumns, cols...)
			}
			if match, ok := closestMatch(col, allColumns); ok {
				warnings = append(warnings, fmt.Sprintf(
					"Column '%s' not found in '%s'. Did you mean '%s'? Available in %s: %s",
					col, frameName, match, frameName, previewColumns(columns)))
			} else {
				warnings = append(warnings, fmt.Sprintf(
					"Column '%s' not found in '%s'. Available: %s",
					col, frameName, previewColumns(columns)))
			}
		}
	}

	return warnings
}

// referencedColumns extracts the column names a script references on one
// frame, in order of first appearance, deduplicated.
func referencedColumns(code, frameName string) []string {
	quoted := regexp.QuoteMeta(frameName)
	bracketPattern := regexp.MustCompile(quoted + `\[['"]([^'"]+)['"]\]`)
	dotPattern := regexp.MustCompile(quoted + `\.([A-Za-z_][A-Za-z0-9_]*)`)

	seen := map[string]bool{}
	var refs []string
	for _, m := range bracketPattern.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	for _, m := range dotPattern.FindAllStringSubmatch(code, -1) {
		col := m[1]
		if frameMethods[col] || seen[col] {
			continue
		}
		// A method call the method table does not know about is still a
		// call, not a column reference.
		if strings.Contains(code, frameName+"."+col+"(") {
			continue
		}
		seen[col] = true
		refs = append(refs, col)
	}
	return refs
}

// closestMatch returns the candidate with the highest similarity ratio to
// name, if any candidate reaches the cutoff.
func closestMatch(name string, candidates []string) (string, bool) {
	best := ""
	bestRatio := 0.0
	for _, candidate := range candidates {
		ratio := similarity(name, candidate)
		if ratio > bestRatio {
			best = candidate
			bestRatio = ratio
		}
	}
	if bestRatio >= fuzzyCutoff {
		return best, true
	}
	return "", false
}

// similarity is 1 - normalized levenshtein distance, the same scale as
// difflib-style close matching.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func previewColumns(columns []string) string {
	if len(columns) <= 5 {
		return "[" + strings.Join(columns, ", ") + "]"
	}
	return "[" + strings.Join(columns[:5], ", ") + "]..."
}
