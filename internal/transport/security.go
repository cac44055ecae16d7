package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidateServer checks that listener-side TLS material is configured.
func (c TLSConfig) ValidateServer() error {
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	if c.Mutual && strings.TrimSpace(c.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

// ValidateClient checks that dial-side TLS material is configured.
func (c TLSConfig) ValidateClient() error {
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.Mutual {
		if strings.TrimSpace(c.CertFile) == "" || strings.TrimSpace(c.KeyFile) == "" {
			return ErrMTLSNeedsClientCert
		}
	}
	return nil
}

// ServerTLSConfig builds the listener config, requiring client certs when mutual.
func (c TLSConfig) ServerTLSConfig() (*tls.Config, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if c.Mutual {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientTLSConfig builds the dial config for addr. ServerName defaults to the
// host part of addr.
func (c TLSConfig) ClientTLSConfig(addr string) (*tls.Config, error) {
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(c.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.CAFile); caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if c.Mutual {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("transport: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
