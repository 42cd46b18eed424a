package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/lucasew/edgecache/internal/errutil"
)

// DefaultTimeout bounds one origin request. Past it the origin counts as
// unreachable.
const DefaultTimeout = 30 * time.Second

// NewTransport creates a transport trusting the system CAs plus caCert, if
// given. The origin may itself sit behind an interception proxy using it.
func NewTransport(caCert *tls.Certificate) *http.Transport {
	rootCAs, err := x509.SystemCertPool()
	if err != nil || rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}

	if caCert != nil && len(caCert.Certificate) > 0 {
		cert, err := x509.ParseCertificate(caCert.Certificate[0])
		if err == nil {
			rootCAs.AddCert(cert)
		} else {
			errutil.ReportError(err, "Failed to parse custom CA certificate")
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{RootCAs: rootCAs},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient creates an http.Client for origin traffic. A non-positive timeout
// uses DefaultTimeout.
func NewClient(transport *http.Transport, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if transport == nil {
		transport = NewTransport(nil)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		// Redirects are the origin's answer; hand them to the client as is.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
