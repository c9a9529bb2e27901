// Package output renders graphmesh-cli results as a table, JSON or YAML.
//
// Values that implement Tabular control their table layout; anything else
// falls back to JSON in table mode.
package output
