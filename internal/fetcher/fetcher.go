package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrNetwork wraps every transport failure: DNS errors, refused connections,
// timeouts. An HTTP error status is a response, not a network failure.
var ErrNetwork = errors.New("network unreachable")

// HTTPStatusError is returned when a caller requires a 2xx and got something else.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Fetcher performs a request against the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f Func) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher sends requests to the origin with an http.Client.
type HTTPFetcher struct {
	Client *http.Client
	// Origin, when set, replaces scheme and host of every request. Requests
	// arriving at a reverse proxy only carry a path.
	Origin *url.URL
}

func NewHTTPFetcher(client *http.Client, origin *url.URL) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		Client: client,
		Origin: origin,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if f.Origin != nil {
		out.URL.Scheme = f.Origin.Scheme
		out.URL.Host = f.Origin.Host
		out.Host = f.Origin.Host
	}
	if out.URL.Scheme == "" || out.URL.Host == "" {
		return nil, fmt.Errorf("cannot fetch relative URL %q without an origin", out.URL.String())
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := f.Client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return resp, nil
}

// Get fetches a path relative to the origin with f.
func Get(ctx context.Context, f Fetcher, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, req)
}
