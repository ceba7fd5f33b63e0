package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCertsFound is returned when a PEM source holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found")

	// ErrIncompleteKeyPair is returned when only one of a certificate and
	// a key file is given.
	ErrIncompleteKeyPair = errors.New("tlsroots: certificate and key must be set together")
)

// certExts are the file extensions read from CA directories.
var certExts = map[string]bool{".pem": true, ".crt": true, ".cer": true}

// AppendPEM adds the certificates in data to pool and returns how many
// were added. Blocks other than CERTIFICATE are skipped.
func AppendPEM(pool *x509.CertPool, data []byte) (int, error) {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return n, fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		pool.AddCert(cert)
		n++
	}
	return n, nil
}

// LoadPool builds a pool from PEM files and directories. Directory
// entries without a certificate extension are ignored. At least one
// certificate must be found.
func LoadPool(paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	total := 0
	for _, path := range paths {
		n, err := appendPath(pool, path)
		if err != nil {
			return nil, err
		}
		total += n
	}
	if total == 0 {
		return nil, ErrNoCertsFound
	}
	return pool, nil
}

func appendPath(pool *x509.CertPool, path string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: %w", err)
	}
	if !fi.IsDir() {
		return appendFile(pool, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read dir %s: %w", path, err)
	}
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !certExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		n, err := appendFile(pool, filepath.Join(path, entry.Name()))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func appendFile(pool *x509.CertPool, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	n, err := AppendPEM(pool, data)
	if err != nil {
		return n, fmt.Errorf("%w (%s)", err, path)
	}
	return n, nil
}

// ServerConfig returns the listener settings for kp. With clientCAs set
// every client must present a certificate issued by one of them.
func ServerConfig(kp *KeyPair, clientCAs ...string) (*tls.Config, error) {
	cfg := &tls.Config{
		GetCertificate: kp.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if len(clientCAs) > 0 {
		pool, err := LoadPool(clientCAs...)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig returns settings for calling an HTTPS admin API. An empty
// caFile trusts the system roots. certFile and keyFile select a client
// certificate and must be given together.
func ClientConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		pool, err := LoadPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if (certFile == "") != (keyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if certFile != "" {
		kp, err := NewKeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		cfg.GetClientCertificate = kp.GetClientCertificate
	}
	return cfg, nil
}
