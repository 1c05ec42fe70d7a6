// Package validator implements the static gate for submitted scripts.
//
// The validator parses submitted source, auto-repairs common syntax
// mistakes, rejects imports of host-access modules and dynamic-execution
// calls, rejects memory-bomb allocation shapes, and rewrites known chart-API
// mistakes. It also cross-checks referenced column names against loaded
// datasets with fuzzy-matched suggestions.
//
// The gate is a cooperative blocklist filter, not an isolation boundary:
// sufficiently obfuscated code can evade the pattern scans. The sandbox's
// own namespace and module resolver are the enforcement layer; true
// isolation is a deployment concern outside this service.
package validator
