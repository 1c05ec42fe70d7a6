package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestValidate(t *testing.T) {
	v := New(zaptest.NewLogger(t))

	t.Run("ValidScript", func(t *testing.T) {
		result := v.Validate("var x = 1 + 1;\nresult = x;")
		require.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Equal(t, "var x = 1 + 1;\nresult = x;", result.CleanedCode)
	})

	t.Run("EmptySource", func(t *testing.T) {
		for _, code := range []string{"", "   ", "\n\t\n"} {
			result := v.Validate(code)
			require.False(t, result.Valid)
			assert.Equal(t, []string{"empty source"}, result.Errors)
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		result := v.Validate("var x = ;")
		require.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "syntax error")
	})

	t.Run("AutoFixTrailingBackslash", func(t *testing.T) {
		result := v.Validate("result = 1 + 1; \\")
		require.True(t, result.Valid)
		assert.Equal(t, "result = 1 + 1;", result.CleanedCode)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "auto-fixed syntax error")
	})

	t.Run("AutoFixMissingBrace", func(t *testing.T) {
		result := v.Validate("if (true) {\nresult = 2;")
		require.True(t, result.Valid)
		assert.Contains(t, result.CleanedCode, "}")
	})

	t.Run("NoResultAssignmentWarns", func(t *testing.T) {
		result := v.Validate("var x = 5;")
		require.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "does not assign")
	})
}

func TestValidateSecurity(t *testing.T) {
	v := New(zaptest.NewLogger(t))

	t.Run("BlockedImports", func(t *testing.T) {
		cases := map[string]string{
			"require fs":        "var fs = require('fs'); result = 1;",
			"require node:fs":   "var fs = require('node:fs'); result = 1;",
			"require subpath":   "var p = require('fs/promises'); result = 1;",
			"import statement":  "import fs from 'fs';\nresult = 1;",
			"child_process":     "var cp = require('child_process'); result = 1;",
			"require http":      "var h = require('http'); result = 1;",
		}
		for name, code := range cases {
			t.Run(name, func(t *testing.T) {
				result := v.Validate(code)
				require.False(t, result.Valid)
				require.NotEmpty(t, result.Errors)
				assert.Contains(t, result.Errors[0], "blocked import")
			})
		}
	})

	t.Run("AllowedImports", func(t *testing.T) {
		result := v.Validate("var plot = require('plot');\nresult = 1;")
		assert.True(t, result.Valid)
	})

	t.Run("BlockedCalls", func(t *testing.T) {
		cases := map[string]string{
			"eval":           "eval('1+1'); result = 1;",
			"new Function":   "var f = new Function('return 1'); result = 1;",
			"fetch":          "fetch('http://example.com'); result = 1;",
			"XMLHttpRequest": "var x = new XMLHttpRequest(); result = 1;",
		}
		for name, code := range cases {
			t.Run(name, func(t *testing.T) {
				result := v.Validate(code)
				require.False(t, result.Valid)
				assert.Contains(t, result.Errors[0], "blocked call")
			})
		}
	})

	t.Run("DangerousPatterns", func(t *testing.T) {
		cases := map[string]string{
			"process access":  "result = process.env;",
			"globalThis":      "result = globalThis;",
			"proto pollution": "x.__proto__.polluted = 1; result = 1;",
			"dynamic require": "var m = require(name); result = 1;",
		}
		for name, code := range cases {
			t.Run(name, func(t *testing.T) {
				result := v.Validate(code)
				require.False(t, result.Valid)
				assert.Contains(t, result.Errors[0], "dangerous pattern detected")
			})
		}
	})

	t.Run("ItemizedViolations", func(t *testing.T) {
		result := v.Validate("var fs = require('fs');\neval('x');\nresult = 1;")
		require.False(t, result.Valid)
		assert.GreaterOrEqual(t, len(result.Errors), 2)
	})
}

func TestValidateMemorySafety(t *testing.T) {
	v := New(zaptest.NewLogger(t))

	t.Run("HugeArray", func(t *testing.T) {
		result := v.Validate("var a = new Array(100000000); result = a.length;")
		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "memory safety violation")
	})

	t.Run("HugeRepeat", func(t *testing.T) {
		result := v.Validate("result = 'x'.repeat(9999999);")
		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "memory safety violation")
	})

	t.Run("NumZeros", func(t *testing.T) {
		result := v.Validate("result = num.zeros(100000000);")
		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "memory safety violation")
	})

	t.Run("ReasonableSizesPass", func(t *testing.T) {
		result := v.Validate("var a = new Array(1000); result = 'y'.repeat(100);")
		assert.True(t, result.Valid)
	})
}

func TestSanitizeChartCalls(t *testing.T) {
	t.Run("MethodNames", func(t *testing.T) {
		code := "fig.updateXAxis({title: 'x'});\nfig.updateYAxis({title: 'y'});"
		sanitized, fixes := sanitizeChartCalls(code)
		assert.Contains(t, sanitized, ".updateXAxes(")
		assert.Contains(t, sanitized, ".updateYAxes(")
		assert.Len(t, fixes, 2)
	})

	t.Run("AnnotationPositions", func(t *testing.T) {
		code := `fig.addAnnotation({annotationPosition: "middle right"});`
		sanitized, fixes := sanitizeChartCalls(code)
		assert.Contains(t, sanitized, `"top right"`)
		require.Len(t, fixes, 1)
		assert.Contains(t, fixes[0], "annotationPosition")
	})

	t.Run("DashStyles", func(t *testing.T) {
		code := `fig.updateTraces({line: {dash: "dashed"}});`
		sanitized, fixes := sanitizeChartCalls(code)
		assert.Contains(t, sanitized, `"dash"`)
		assert.NotContains(t, sanitized, "dashed")
		require.Len(t, fixes, 1)
	})

	t.Run("CleanCodeUntouched", func(t *testing.T) {
		code := "fig.updateXAxes({title: 'x'});"
		sanitized, fixes := sanitizeChartCalls(code)
		assert.Equal(t, code, sanitized)
		assert.Empty(t, fixes)
	})
}
