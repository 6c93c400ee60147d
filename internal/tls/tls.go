package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/jwrapper/internal/config"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// ErrNoCertificate is returned when TLS is enabled without any way to find a
// certificate.
var ErrNoCertificate = errors.New("TLS enabled but no valid certificate configuration found")

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) uint16 {
	switch ver {
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Setup builds the server TLS configuration for the control API. It returns
// nil when TLS is disabled.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if cfg.Dir == "" {
			return nil, ErrNoCertificate
		}
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(cfg, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// load once up front so a broken pair fails at startup
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: reloadingCertificate(certPath, keyPath),
		MinVersion:     parseTLSVersion(cfg.MinVersion),
	}, nil
}

// reloadingCertificate reads the pair on each handshake so a renewed
// certificate is picked up without restarting the wrapper.
func reloadingCertificate(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(cfg config.TLSConfig, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	days := cfg.ValidDays
	if days <= 0 {
		days = 365
	}
	names := cfg.DNSNames
	if len(names) == 0 {
		names = []string{"localhost", "127.0.0.1"}
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   names[0],
		Organization: "jwrapper",
		Hosts:        names,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
