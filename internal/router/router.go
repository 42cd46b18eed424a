// Package router decides which requests are intercepted and which caching
// strategy answers each of them.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/lucasew/edgecache/internal/strategy"
)

// ErrNotIntercepted is returned by Route for requests that must pass through.
var ErrNotIntercepted = errors.New("request is not intercepted")

// Class is the request class that selects a strategy.
type Class string

const (
	ClassAPI        Class = "api"
	ClassImage      Class = "image"
	ClassStatic     Class = "static"
	ClassNavigation Class = "navigation"
	ClassOther      Class = "other"
)

// DefaultAPIPrefix is the path prefix of the backend API.
const DefaultAPIPrefix = "/api/"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

// Intercepts reports whether req is a same-origin GET.
// A request without a host (reverse proxy mode) is same-origin.
func Intercepts(req *http.Request, origin *url.URL) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if origin == nil || req.URL.Host == "" {
		return true
	}
	return strings.EqualFold(req.URL.Hostname(), origin.Hostname()) && port(req.URL) == port(origin)
}

func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

// Classify assigns req to exactly one class. Rules are checked in order and
// the first match wins.
func Classify(req *http.Request, apiPrefix string) Class {
	if apiPrefix == "" {
		apiPrefix = DefaultAPIPrefix
	}
	dest := strings.ToLower(req.Header.Get("Sec-Fetch-Dest"))
	switch {
	case strings.HasPrefix(req.URL.Path, apiPrefix):
		return ClassAPI
	case dest == "image" || imageExtensions[strings.ToLower(path.Ext(req.URL.Path))]:
		return ClassImage
	case dest == "script" || dest == "style":
		return ClassStatic
	case IsNavigation(req):
		return ClassNavigation
	default:
		return ClassOther
	}
}

// IsNavigation reports whether req loads a top-level document.
func IsNavigation(req *http.Request) bool {
	mode := req.Header.Get("Sec-Fetch-Mode")
	if strings.EqualFold(mode, "navigate") || strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "document") {
		return true
	}
	// Clients without fetch metadata: a GET that accepts HTML is a page load.
	return mode == "" && strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Key returns the cache key of req.
func Key(req *http.Request) string {
	return req.URL.RequestURI()
}

// Metrics records one routed request.
type Metrics interface {
	Request(class, outcome string)
}

// Router dispatches intercepted requests to their strategy.
type Router struct {
	Origin    *url.URL
	APIPrefix string

	API        strategy.Strategy
	Images     strategy.Strategy
	Static     strategy.Strategy
	Navigation strategy.Strategy

	Metrics Metrics
}

// StrategyFor returns the strategy serving class c.
func (r *Router) StrategyFor(c Class) strategy.Strategy {
	switch c {
	case ClassAPI:
		return r.API
	case ClassImage:
		return r.Images
	case ClassStatic:
		return r.Static
	default:
		return r.Navigation
	}
}

// Route answers req with the strategy for its class. Requests that are not
// intercepted get ErrNotIntercepted and must be forwarded untouched.
func (r *Router) Route(ctx context.Context, req *http.Request) (*strategy.Result, Class, error) {
	if !Intercepts(req, r.Origin) {
		return nil, "", ErrNotIntercepted
	}
	class := Classify(req, r.APIPrefix)
	s := r.StrategyFor(class)
	if s == nil {
		return nil, class, fmt.Errorf("no strategy for class %s", class)
	}
	res, err := s.Handle(ctx, &strategy.Request{
		HTTP:       req,
		Key:        Key(req),
		Navigation: class == ClassNavigation,
	})
	if r.Metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = string(res.Source)
		}
		r.Metrics.Request(string(class), outcome)
	}
	return res, class, err
}
