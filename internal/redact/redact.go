// Package redact masks credentials before they reach logs or reports.
package redact

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const Marker = "REDACTED"

var (
	tokenPattern       = regexp.MustCompile(`(?i)(token=)([^&\s"']+)`)
	bearerPattern      = regexp.MustCompile(`(?i)(authorization:\s*(?:bearer|basic)\s+)([A-Za-z0-9\._\-+/=]+)`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key=)([^&\s"']+)`)
	secretPattern      = regexp.MustCompile(`(?i)(secret=)([^&\s"']+)`)
	passwordPattern    = regexp.MustCompile(`(?i)(password=)([^&\s"']+)`)
	accessTokenPattern = regexp.MustCompile(`(?i)(access[_-]?token=)([^&\s"']+)`)
)

var textPatterns = []*regexp.Regexp{
	tokenPattern,
	bearerPattern,
	apiKeyPattern,
	secretPattern,
	passwordPattern,
	accessTokenPattern,
}

// sensitiveFragments mark header names whose values are always masked.
var sensitiveFragments = []string{"authorization", "token", "secret", "password", "cookie", "api-key", "apikey"}

// Header returns a flattened copy of h with credential values masked. The
// auth scheme of Authorization-style headers is kept so logs still show
// which scheme was offered.
func Header(h http.Header) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		value := strings.Join(values, ", ")
		if IsSensitiveHeader(name) {
			value = maskCredential(value)
		}
		out[name] = value
	}
	return out
}

// HeaderNames returns the canonical header names of h in sorted order.
func HeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)
	return names
}

func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func maskCredential(value string) string {
	if value == "" {
		return ""
	}
	scheme, _, found := strings.Cut(value, " ")
	if found {
		switch strings.ToLower(scheme) {
		case "basic", "bearer", "digest", "token":
			return scheme + " " + Marker
		}
	}
	return Marker
}

// Text masks key=value style secrets embedded in free text.
func Text(text string) string {
	for _, pattern := range textPatterns {
		text = applyRedaction(pattern, text)
	}
	return text
}

// URL masks userinfo passwords and secret-looking query parameters.
func URL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return Text(raw)
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), Marker)
		}
	}
	return Text(parsed.String())
}

func applyRedaction(pattern *regexp.Regexp, text string) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := pattern.FindStringSubmatch(match)
		if len(sub) >= 2 {
			return sub[1] + Marker
		}
		return Marker
	})
}
