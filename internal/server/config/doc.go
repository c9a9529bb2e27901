// Package config defines the graphmesh-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - verify.go: validation, reporting every violation at once
//   - sanitize.go: a copy safe to log
//   - convert.go: mapping onto the component configs
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// GRAPHMESH_* environment variables and command-line flags.
package config
