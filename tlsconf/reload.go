package tlsconf

import (
	"crypto/tls"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CertReloader serves a server certificate that is hot-swapped whenever the
// PEM files change on disk, so a certificate rotation does not require a
// listener restart.
type CertReloader struct {
	mu      sync.RWMutex
	cert    *tls.Certificate
	conf    ServerConfig
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewCertReloader loads the certificate once and starts watching its files.
// The initial load must succeed; later reload failures keep serving the
// last good certificate.
func NewCertReloader(conf ServerConfig, logger *slog.Logger) (*CertReloader, error) {
	r := &CertReloader{conf: conf, logger: logger}
	if err := r.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		// Watching is best-effort; the static certificate still works.
		r.logger.Debug("fsnotify unavailable", "err", err)
		return r, nil
	}
	r.watcher = w

	files := []string{conf.CertFile}
	if conf.KeyFile != "" && conf.KeyFile != conf.CertFile {
		files = append(files, conf.KeyFile)
	}
	for _, f := range files {
		if err := w.Add(f); err != nil {
			r.logger.Debug("watch certificate file failed", "file", f, "err", err)
		}
	}
	go r.watch()
	return r, nil
}

func (r *CertReloader) watch() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("certificate reload failed, keeping previous", "err", err)
				continue
			}
			r.logger.Info("certificate reloaded", "file", ev.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Debug("certificate watcher error", "err", err)
		}
	}
}

func (r *CertReloader) reload() error {
	keyFile := r.conf.KeyFile
	if keyFile == "" {
		keyFile = r.conf.CertFile
	}
	cert, err := tls.LoadX509KeyPair(r.conf.CertFile, keyFile)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// GetCertificate is a tls.Config callback serving the current certificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Close stops the file watcher.
func (r *CertReloader) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
