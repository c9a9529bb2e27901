// Package tlsroots loads the TLS material of a GraphMesh node.
//
// A node may serve its RPC endpoint over TLS and, optionally, require
// client certificates from its peers:
//
//   - roots.go: trusted CA pool (system roots or a PEM bundle)
//   - config.go: server and client tls.Config built from one Config
//   - watcher.go: key pair hot-reload via fsnotify
//
// Certificates are read through the key pair watcher on every handshake,
// so a rotated certificate takes effect without a restart.
package tlsroots
