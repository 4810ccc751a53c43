package util

import (
	"fmt"
	"net/url"
	"strings"
)

// JobPlaceholder marks where the job id goes in an endpoint template.
const JobPlaceholder = "{job}"

// NormalizeBaseURL parses a server base URL, defaulting the scheme to http
// and dropping any trailing slash. Only http and https are accepted.
func NormalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server URL %q: scheme must be http or https", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// JobEndpoint expands a path template such as "/mcp/stream/{job}" for jobID
// and joins it to base. Templates without the placeholder get the id appended.
func JobEndpoint(base, template, jobID string) string {
	id := url.PathEscape(jobID)
	path := template
	if strings.Contains(path, JobPlaceholder) {
		path = strings.ReplaceAll(path, JobPlaceholder, id)
	} else {
		path = strings.TrimRight(path, "/") + "/" + id
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}

// ResolveURL resolves ref against base. Absolute refs are returned unchanged.
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	// Keep any base path prefix for server-absolute refs like /mcp/stream/x.
	if strings.HasPrefix(r.Path, "/") && b.Path != "" && b.Path != "/" {
		r.Path = strings.TrimRight(b.Path, "/") + r.Path
	}
	return b.ResolveReference(r).String(), nil
}

// WebSocketURL converts an http(s) URL to its ws(s) form.
func WebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("cannot derive a websocket URL from %q", raw)
	}
	return u.String(), nil
}
