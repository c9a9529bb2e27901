// Package connection resolves the nodes graphmesh-cli talks to.
//
// The CLI addresses nodes by their RPC address, so node ids and
// addresses coincide. Health and metrics are read over plain HTTP from
// the same listener that serves RPC.
package connection
