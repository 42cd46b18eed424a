package proxy

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/elazarl/goproxy"
	"github.com/lucasew/edgecache/internal/router"
	"github.com/lucasew/edgecache/internal/strategy"
)

// SourceHeader tells clients where an intercepted response came from.
const SourceHeader = "X-Edgecache-Source"

// Admin is the admin API mounted next to the proxy.
type Admin interface {
	http.Handler
	Owns(path string) bool
}

// Server answers both as a forward proxy (clients configure it as their HTTP
// proxy) and as a reverse proxy in front of the origin.
type Server struct {
	Proxy  *goproxy.ProxyHttpServer
	Router *router.Router
	Admin  Admin
	Rules  []Rule

	origin  *url.URL
	reverse *httputil.ReverseProxy
}

// NewServer creates the proxy. transport is used for pass-through traffic.
// With a CA, HTTPS to the origin is intercepted; other hosts are tunnelled.
func NewServer(rt *router.Router, admin Admin, origin *url.URL, rules []Rule, transport *http.Transport, caCert *tls.Certificate) *Server {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	if transport != nil {
		proxy.Tr = transport
	}

	s := &Server{
		Proxy:  proxy,
		Router: rt,
		Admin:  admin,
		Rules:  rules,
		origin: origin,
	}

	s.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.Out.Host = origin.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("Pass-through request failed", "url", r.URL.String(), "error", err)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	if transport != nil {
		s.reverse.Transport = transport
	}

	if caCert != nil {
		tlsConfig := goproxy.TLSConfigFromCA(caCert)
		proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			if s.isOrigin(host) {
				return &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}, host
			}
			return goproxy.OkConnect, host
		}))
	}

	proxy.NonproxyHandler = http.HandlerFunc(s.serveDirect)
	proxy.OnRequest().DoFunc(s.handleRequest)
	return s
}

func (s *Server) isOrigin(hostport string) bool {
	host := hostport
	if h, _, ok := strings.Cut(hostport, ":"); ok {
		host = h
	}
	return strings.EqualFold(host, s.origin.Hostname())
}

// ServeHTTP makes the Server usable as the root handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Proxy.ServeHTTP(w, r)
}

// route runs an intercepted request through the router. A nil response with
// a nil error means the request passes through.
func (s *Server) route(r *http.Request) (*http.Response, error) {
	if bypassed(r.Context(), s.Rules, r.URL) {
		return nil, nil
	}
	res, class, err := s.Router.Route(r.Context(), r)
	if errors.Is(err, router.ErrNotIntercepted) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("No response for intercepted request", "url", r.URL.String(), "class", class, "error", err)
		return nil, err
	}
	res.Response.Header.Set(SourceHeader, string(res.Source))
	slog.Debug("Intercepted", "url", r.URL.String(), "class", class, "source", res.Source, "status", res.Response.StatusCode)
	return res.Response, nil
}

// handleRequest serves requests arriving in forward proxy mode.
func (s *Server) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, err := s.route(r)
	if err != nil {
		return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusBadGateway, badGatewayBody(err))
	}
	// nil response: goproxy forwards the request itself.
	return r, resp
}

// serveDirect serves requests addressed to the proxy itself: the admin API
// and reverse proxy traffic for the origin.
func (s *Server) serveDirect(w http.ResponseWriter, r *http.Request) {
	if s.Admin != nil && s.Admin.Owns(r.URL.Path) {
		s.Admin.ServeHTTP(w, r)
		return
	}
	resp, err := s.route(r)
	if err != nil {
		http.Error(w, badGatewayBody(err), http.StatusBadGateway)
		return
	}
	if resp == nil {
		s.reverse.ServeHTTP(w, r)
		return
	}
	writeResponse(w, resp)
}

func badGatewayBody(err error) string {
	if errors.Is(err, strategy.ErrNoResponse) {
		return "Bad Gateway: origin unreachable and nothing cached"
	}
	return "Bad Gateway"
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("Failed to write response body", "error", err)
	}
}
