package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a burst of file events is coalesced
// before the key pair is reloaded.
const DefaultDebounce = 300 * time.Millisecond

// KeyPair holds a certificate and key that are reloaded when either file
// changes. A failed reload keeps the previous pair.
type KeyPair struct {
	certFile string
	keyFile  string
	debounce time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	done     chan struct{}
	stopOnce sync.Once
}

// KeyPairOption configures a KeyPair.
type KeyPairOption func(*KeyPair)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) KeyPairOption {
	return func(k *KeyPair) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithDebounce sets the reload debounce.
func WithDebounce(d time.Duration) KeyPairOption {
	return func(k *KeyPair) {
		if d > 0 {
			k.debounce = d
		}
	}
}

// NewKeyPair loads certFile and keyFile.
func NewKeyPair(certFile, keyFile string, opts ...KeyPairOption) (*KeyPair, error) {
	k := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return k, nil
}

// Start watches the directories of both files until Stop. Directories are
// watched rather than files so that atomic renames are seen.
func (k *KeyPair) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer w.Close()

	names := map[string]struct{}{}
	for _, f := range []string{k.certFile, k.keyFile} {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("tlsroots: resolve %s: %w", f, err)
		}
		names[abs] = struct{}{}
	}
	dirs := map[string]struct{}{}
	for name := range names {
		dir := filepath.Dir(name)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
		dirs[dir] = struct{}{}
	}

	k.logger.Info("certificate watcher started", "cert_file", k.certFile, "key_file", k.keyFile)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := names[abs]; !ok {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(k.debounce)
			} else {
				timer.Reset(k.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := k.reload(); err != nil {
				k.logger.Error("certificate reload failed", "error", err, "cert_file", k.certFile)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			k.logger.Error("certificate watcher error", "error", err)

		case <-k.done:
			if timer != nil {
				timer.Stop()
			}
			return nil
		}
	}
}

// StartAsync runs Start in a goroutine.
func (k *KeyPair) StartAsync() {
	go func() {
		if err := k.Start(); err != nil {
			k.logger.Error("certificate watcher stopped", "error", err)
		}
	}()
}

// Stop ends the watch loop. It is safe to call more than once.
func (k *KeyPair) Stop() {
	k.stopOnce.Do(func() { close(k.done) })
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return k.current(), nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (k *KeyPair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return k.current(), nil
}

func (k *KeyPair) current() *tls.Certificate {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert
}

func (k *KeyPair) reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()
	k.logger.Info("certificate loaded", "cert_file", k.certFile)
	return nil
}
