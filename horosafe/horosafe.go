// CLAUDE:SUMMARY Input guards shared by the HTTP and MCP shells: document paths confined to a root, link URLs restricted to safe schemes.
// Package horosafe validates untrusted input before it reaches the viewer:
// file paths supplied by clients and URLs attached to link marks.
package horosafe

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a client path escapes its root.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrUnsafeScheme is returned for link URLs outside http, https and mailto.
var ErrUnsafeScheme = errors.New("horosafe: only http, https and mailto links are allowed")

// MaxURLLength bounds link URLs.
const MaxURLLength = 2048

// SafePath joins root and a client-supplied path, rejecting any path that
// would resolve outside root. Absolute inputs are taken relative to root.
func SafePath(root, input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("horosafe: empty path")
	}
	for _, part := range strings.FieldsFunc(input, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}
	base := filepath.Clean(root)
	cleaned := filepath.Join(base, filepath.Clean("/"+input))
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateLinkURL checks that raw is an absolute http(s) URL with a host,
// or a mailto URL with an address.
func ValidateLinkURL(raw string) error {
	if len(raw) > MaxURLLength {
		return fmt.Errorf("horosafe: URL longer than %d bytes", MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Hostname() == "" {
			return fmt.Errorf("horosafe: URL has no host")
		}
	case "mailto":
		if u.Opaque == "" {
			return fmt.Errorf("horosafe: mailto URL has no address")
		}
	default:
		return ErrUnsafeScheme
	}
	return nil
}
