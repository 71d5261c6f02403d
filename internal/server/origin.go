package server

import (
	"net/http"
	"strings"
)

// requestOrigin reconstructs scheme://host as the browser saw it, honouring
// reverse proxy headers.
func requestOrigin(r *http.Request, fallbackHost string) string {
	scheme := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
	}
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = strings.TrimSpace(r.Host)
	}
	if host == "" {
		host = fallbackHost
	}
	return scheme + "://" + host
}

func firstHeaderValue(value string) string {
	if index := strings.IndexByte(value, ','); index >= 0 {
		value = value[:index]
	}
	return strings.TrimSpace(value)
}

// safeRedirectPath keeps post-login redirects on this site.
func safeRedirectPath(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
