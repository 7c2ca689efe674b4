package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// TLSConfig lets an LLM provider talk to a self-hosted gateway or
// corporate proxy sitting in front of the real API: a custom CA
// bundle, or (dev/test only) skipping verification entirely.
type TLSConfig struct {
	InsecureSkipVerify bool
	CACertificate      string // path to a PEM-encoded CA certificate
}

// ConfigureTLS builds an http.Transport from config. A nil config
// yields a plain transport with Go's default trust store.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{TLSClientConfig: &tls.Config{}}
	if config == nil {
		return transport, nil
	}

	if config.CACertificate != "" {
		caCert, err := os.ReadFile(config.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read CA certificate %s: %w", config.CACertificate, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("httpclient: parse CA certificate %s", config.CACertificate)
		}
		transport.TLSClientConfig.RootCAs = pool
	}
	if config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	return transport, nil
}

// WithTLSConfig applies config to the Client's transport, preserving
// whatever timeout the Client already carries (or New's default, if
// applied before any WithHTTPClient option).
func WithTLSConfig(config *TLSConfig) Option {
	return func(c *Client) {
		if config == nil {
			return
		}
		transport, err := ConfigureTLS(config)
		if err != nil {
			slog.Warn("httpclient: failed to configure TLS, using default transport", "error", err)
			return
		}
		if c.client == nil {
			c.client = &http.Client{}
		}
		c.client.Transport = transport
	}
}
