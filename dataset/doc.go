// Package dataset provides the tabular data model for the executor.
//
// The dataset package loads CSV and spreadsheet files into typed, immutable
// Dataset values and caches them by path plus modification time. Callers
// always receive independent copies so mutation inside the sandbox can
// never corrupt cached data.
package dataset
