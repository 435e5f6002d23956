package api

import (
	"net"
	"net/http"
	"strings"
)

// baseURL returns the absolute public URL of this service without a
// trailing slash. The configured base URL wins; otherwise it is rebuilt
// from proxy headers, then from the request itself.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); proto == "http" || proto == "https" {
		scheme = proto
	}

	host := r.Host
	if fwd := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

// requestURL is the absolute URL the provider requested, as it signs it.
func (s *Server) requestURL(r *http.Request) string {
	return s.baseURL(r) + r.URL.RequestURI()
}

// firstHeaderValue takes the client-most entry of a comma separated proxy
// header.
func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// isLoopback reports whether host (optionally with port) is a loopback name.
func isLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
