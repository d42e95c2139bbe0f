package offline0

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Class is the resource class a request falls into.
type Class int

const (
	ClassDocument Class = iota
	ClassStatic
	ClassAPICacheable
	ClassAPIOther
	ClassImage
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassAPICacheable:
		return "api-cacheable"
	case ClassAPIOther:
		return "api-other"
	case ClassImage:
		return "image"
	default:
		return "document"
	}
}

// Strategy names a caching algorithm.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
)

// Route is the dispatch decision for one request.
type Route struct {
	Class     Class
	Strategy  Strategy
	Namespace string
}

// Policy is the immutable routing and naming configuration shared by the
// cache namespace manager, the dispatcher and the strategies. Build it once
// with NewPolicy.
type Policy struct {
	origin *url.URL

	static  string
	dynamic string
	api     string

	precache    []string
	offlinePage string

	staticExt   map[string]struct{}
	imageExt    map[string]struct{}
	staticPfx   []string
	immutable   []string
	apiPrefix   string
	cacheable   []string
	critical    []string
	firstWithin time.Duration
}

func NewPolicy(cfg Config) (*Policy, error) {
	u, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return nil, configError("server.origin", err)
	}
	v := cfg.Caches.Version
	return &Policy{
		origin:      u,
		static:      "static-" + v,
		dynamic:     "dynamic-" + v,
		api:         "api-" + v,
		precache:    append([]string(nil), cfg.Caches.Precache...),
		offlinePage: cfg.Caches.OfflinePage,
		staticExt:   extSet(cfg.Routes.StaticExtensions),
		imageExt:    extSet(cfg.Routes.ImageExtensions),
		staticPfx:   append([]string(nil), cfg.Routes.StaticPrefixes...),
		immutable:   append([]string(nil), cfg.Routes.ImmutablePrefixes...),
		apiPrefix:   cfg.Routes.APIPrefix,
		cacheable:   append([]string(nil), cfg.Routes.CacheableAPI...),
		critical:    append([]string(nil), cfg.Routes.CriticalAPI...),
		firstWithin: cfg.Network.firstTimeoutDur,
	}, nil
}

func extSet(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out[e] = struct{}{}
		}
	}
	return out
}

// Namespaces returns the allow-list of the current version: static, dynamic, api.
func (p *Policy) Namespaces() []string {
	return []string{p.static, p.dynamic, p.api}
}

func (p *Policy) Origin() string {
	return p.origin.Scheme + "://" + p.origin.Host
}

// SameOrigin reports whether r targets the application origin. Requests
// without a host (reverse proxy form) are same-origin.
func (p *Policy) SameOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return true
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return strings.EqualFold(scheme, p.origin.Scheme) && strings.EqualFold(r.URL.Host, p.origin.Host)
}

// Dispatch picks exactly one route for a same-origin request. It returns
// false for cross-origin requests, which must pass through untouched.
func (p *Policy) Dispatch(r *http.Request) (Route, bool) {
	if !p.SameOrigin(r) {
		return Route{}, false
	}
	switch c := p.Classify(r.URL.Path); c {
	case ClassStatic:
		return Route{Class: c, Strategy: CacheFirst, Namespace: p.static}, true
	case ClassImage:
		return Route{Class: c, Strategy: CacheFirst, Namespace: p.dynamic}, true
	case ClassAPICacheable:
		return Route{Class: c, Strategy: NetworkFirst, Namespace: p.api}, true
	case ClassAPIOther:
		return Route{Class: c, Strategy: NetworkOnly}, true
	default:
		return Route{Class: c, Strategy: StaleWhileRevalidate, Namespace: p.dynamic}, true
	}
}

// Classify maps a URL path to its resource class.
func (p *Policy) Classify(urlPath string) Class {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(urlPath), "."))
	if _, ok := p.staticExt[ext]; ok && ext != "" {
		return ClassStatic
	}
	if hasAnyPrefix(urlPath, p.staticPfx) {
		return ClassStatic
	}
	if hasAnyPrefix(urlPath, p.cacheable) {
		return ClassAPICacheable
	}
	if strings.HasPrefix(urlPath, p.apiPrefix) {
		return ClassAPIOther
	}
	if _, ok := p.imageExt[ext]; ok && ext != "" {
		return ClassImage
	}
	return ClassDocument
}

func (p *Policy) Immutable(urlPath string) bool {
	return hasAnyPrefix(urlPath, p.immutable)
}

func (p *Policy) Critical(urlPath string) bool {
	return hasAnyPrefix(urlPath, p.critical)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, pfx := range prefixes {
		if strings.HasPrefix(s, pfx) {
			return true
		}
	}
	return false
}

// requestKey is the cache identity of a request: method and request URI.
func requestKey(method, requestURI string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + requestURI
}

func keyOf(r *http.Request) string {
	return requestKey(r.Method, r.URL.RequestURI())
}

// isDocumentRequest reports a full page navigation.
func isDocumentRequest(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
