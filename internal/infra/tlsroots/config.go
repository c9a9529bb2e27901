package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
)

// Config names the TLS files of a node.
type Config struct {
	// CertFile and KeyFile hold the node's own key pair. It is presented
	// by the server and, when the peer asks, by the client.
	CertFile string
	KeyFile  string

	// CAFile is the PEM bundle peers are verified against. Empty means
	// the system roots.
	CAFile string

	// ClientAuth makes the server require and verify client certificates.
	ClientAuth bool
}

// Enabled reports whether any TLS file is configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Validate checks that the files form a usable combination.
func (c Config) Validate() error {
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}
	if c.ClientAuth {
		if c.CAFile == "" {
			errs = append(errs, errors.New("client_auth requires ca_file"))
		}
		if c.CertFile == "" {
			errs = append(errs, errors.New("client_auth requires cert_file and key_file"))
		}
	}
	return errors.Join(errs...)
}

// Material is the loaded TLS state of a node.
type Material struct {
	cfg   Config
	roots *x509.CertPool
	keys  *KeyPair
}

// Load reads the CA bundle and key pair named by cfg.
func Load(cfg Config, logger *slog.Logger) (*Material, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roots, err := LoadPool(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	m := &Material{cfg: cfg, roots: roots}
	if cfg.CertFile != "" {
		m.keys, err = NewKeyPair(cfg.CertFile, cfg.KeyFile, WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Roots returns the trusted CA pool.
func (m *Material) Roots() *x509.CertPool {
	return m.roots
}

// CanServe reports whether a key pair is loaded.
func (m *Material) CanServe() bool {
	return m.keys != nil
}

// ServerConfig returns the listener config. It is nil when no key pair
// is configured.
func (m *Material) ServerConfig() *tls.Config {
	if m.keys == nil {
		return nil
	}
	cfg := &tls.Config{
		GetCertificate: m.keys.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if m.cfg.ClientAuth {
		cfg.ClientCAs = m.roots
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig returns the dialer config. The key pair, when present, is
// offered to servers that request a client certificate.
func (m *Material) ClientConfig() *tls.Config {
	cfg := &tls.Config{
		RootCAs:    m.roots,
		MinVersion: tls.VersionTLS12,
	}
	if m.keys != nil {
		cfg.GetClientCertificate = m.keys.GetClientCertificate
	}
	return cfg
}

// Watch starts reloading the key pair on file changes.
func (m *Material) Watch() {
	if m.keys != nil {
		m.keys.StartAsync()
	}
}

// Close stops the key pair watcher.
func (m *Material) Close() {
	if m.keys != nil {
		m.keys.Stop()
	}
}
