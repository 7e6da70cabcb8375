package httpmetrics

import (
	"regexp"
	"strings"
)

var (
	uuidRegex = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// OtherRoute labels every path outside knownRoutes.
const OtherRoute = "other"

var knownRoutes = map[string]struct{}{
	"/":                          {},
	"/health":                    {},
	"/metrics":                   {},
	"/api/auth/register":         {},
	"/api/auth/login":            {},
	"/api/auth/refresh":          {},
	"/api/auth/logout":           {},
	"/api/auth/sessions":         {},
	"/api/auth/sessions/{param}": {},
}

// NormalizePath maps a request path to a bounded metric label: ids become
// {param} and unknown routes collapse into OtherRoute.
func NormalizePath(path string) string {
	normalized := normalizeSegments(path)
	if _, ok := knownRoutes[normalized]; !ok {
		return OtherRoute
	}
	return normalized
}

func normalizeSegments(path string) string {
	if path == "" {
		return "/"
	}

	normalized := uuidRegex.ReplaceAllString(path, "{id}")

	parts := strings.Split(normalized, "/")
	for i, part := range parts {
		if part != "" && (strings.HasPrefix(part, "{") || isNumeric(part)) {
			parts[i] = "{param}"
		}
	}

	result := strings.Join(parts, "/")
	if result == "" {
		return "/"
	}

	return result
}

func isNumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
