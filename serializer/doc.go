// Package serializer converts arbitrary runtime values into bounded,
// JSON-safe structures.
//
// The serializer is the last stage of the execution pipeline and the one
// stage that must never fail: cyclic containers terminate at a marker
// string, non-finite numbers are encoded losslessly enough for renderers
// (null for NaN, "Infinity"/"-Infinity" strings), tabular values truncate
// to a fixed row budget with explicit accounting, and figure payloads are
// size-capped with compact typed arrays expanded to plain arrays.
package serializer
