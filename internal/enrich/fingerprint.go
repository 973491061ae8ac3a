package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"chronicler/internal/services"
)

const fingerprintPrefix = "sha256:"

var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
}

// Canonicalize normalizes a URL so trivially different spellings of the same
// resource share one cache entry.
func Canonicalize(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", services.Validation("enrich", "empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "enrich", "canonicalize", "parse url", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", services.Validation("enrich", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", services.Validation("enrich", "url has no host")
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			query.Del(key)
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			query.Del(key)
		}
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Fingerprint returns the cache key for rawURL: "sha256:" followed by the hex
// digest of the canonical form.
func Fingerprint(rawURL string) (string, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return fingerprintPrefix + hex.EncodeToString(sum[:]), nil
}
