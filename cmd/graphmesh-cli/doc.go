// Package main provides the entry point for graphmesh-cli, the operator
// tool for submitting writes and inspecting GraphMesh progress.
package main
