package auth

import (
	"net/http"
	"path"
	"strings"
)

// RouteAccess says which credential a route expects.
type RouteAccess int

const (
	// AccessBearer routes require a JWT in the Authorization header.
	AccessBearer RouteAccess = iota
	// AccessPublic routes carry no credential.
	AccessPublic
	// AccessSelf routes authenticate inside the handler: HMAC-signed ingest, socket query tokens.
	AccessSelf
)

func (a RouteAccess) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessSelf:
		return "self"
	default:
		return "bearer"
	}
}

type route struct {
	method string
	path   string
	prefix bool
	access RouteAccess
}

func (rt route) matches(method, p string) bool {
	if rt.method != "" && rt.method != method {
		return false
	}
	if rt.prefix {
		return strings.HasPrefix(p, rt.path)
	}
	return p == rt.path
}

// Policy classifies requests by the credential they must carry. Unlisted routes need a bearer token.
type Policy struct {
	routes []route
}

// Public marks an exact path as credential-free for method. An empty method matches any.
func (p Policy) Public(method, exactPath string) Policy {
	p.routes = append(append([]route(nil), p.routes...), route{method: method, path: exactPath, access: AccessPublic})
	return p
}

// SelfAuthenticated marks every path under prefix as authenticated by its own handler.
func (p Policy) SelfAuthenticated(prefix string) Policy {
	p.routes = append(append([]route(nil), p.routes...), route{path: prefix, prefix: true, access: AccessSelf})
	return p
}

// DefaultPolicy opens health and metrics to GET and leaves ingest and live sockets to their handlers.
func DefaultPolicy() Policy {
	return Policy{}.
		Public(http.MethodGet, "/healthz").
		Public(http.MethodGet, "/metrics").
		SelfAuthenticated("/ingest/").
		SelfAuthenticated("/ws/")
}

// Classify returns the access class of r. Paths that are not in clean form always need a bearer token.
func (p Policy) Classify(r *http.Request) RouteAccess {
	if r == nil || r.URL == nil {
		return AccessBearer
	}
	requestPath := r.URL.Path
	if clean := path.Clean(requestPath); requestPath == "" || (clean != requestPath && clean+"/" != requestPath) {
		return AccessBearer
	}
	for _, rt := range p.routes {
		if rt.matches(r.Method, requestPath) {
			return rt.access
		}
	}
	return AccessBearer
}

// IsExempt reports whether the bearer middleware should let r through untouched.
func (p Policy) IsExempt(r *http.Request) bool {
	return p.Classify(r) != AccessBearer
}
