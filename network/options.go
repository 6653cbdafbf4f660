package network

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"time"
)

type serverOption func(Server) Server

// WithCertificate makes the server speak HTTPS with cert.
func WithCertificate(cert tls.Certificate) serverOption {
	return func(s Server) Server {
		if s.tlsConfig == nil {
			s.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
		return s
	}
}

func WithServerLogger(logger *slog.Logger) serverOption {
	return func(s Server) Server {
		s.logger = logger
		return s
	}
}

type clientOption func(Client) Client

// WithTimeout bounds every request made by the client.
func WithTimeout(timeout time.Duration) clientOption {
	return func(c Client) Client {
		c.client.Timeout = timeout
		return c
	}
}

// WithMaxChainSize caps the size of a peer's /get_chain response.
func WithMaxChainSize(size int64) clientOption {
	return func(c Client) Client {
		c.maxSize = size
		return c
	}
}

// WithRootCAs switches the client to HTTPS, trusting only the certificates
// in certPool.
func WithRootCAs(certPool *x509.CertPool) clientOption {
	return func(c Client) Client {
		c.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			},
		}
		c.scheme = "https"
		return c
	}
}
