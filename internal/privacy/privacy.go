// Package privacy holds the scrubbing helpers applied before anything leaves
// the process: telemetry events, log output, and debug payloads. Plates are
// personal data and only ever travel as stable hash tokens.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	// URLs in error text: gate controller endpoints, broker addresses,
	// cloud API bases. All may embed credentials or internal hostnames.
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|ws|wss)://\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage replaces every URL in the message with its anonymized form.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizePlate reduces a plate to a stable hash token. The same plate in
// any formatting ("ABC-1234", "abc 1234") yields the same token, so grouped
// telemetry stays useful without carrying the plate itself.
func AnonymizePlate(plate string) string {
	var b strings.Builder
	for _, r := range plate {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	normalized := b.String()
	if normalized == "" {
		return "plate-empty"
	}
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("plate-%x", sum[:6])
}

// AnonymizeURL converts a URL to an anonymized form that keeps its debugging
// value: the scheme, a host category, the port, and the path structure
// survive as a consistent hash while credentials, hostnames, and path
// details do not.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string
	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}
	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("url-%x", hash[:12])
}

// RedactCredentials strips the userinfo part from a URL-ish string while
// keeping scheme, host, and port readable. Used where the address itself
// belongs in the log line (broker, gate controller) but embedded
// credentials must not leak.
func RedactCredentials(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd == -1 {
		return raw
	}
	rest := raw[schemeEnd+3:]
	if at := strings.IndexByte(rest, '@'); at != -1 {
		return raw[:schemeEnd+3] + rest[at+1:]
	}
	return raw
}

// GenerateSystemID creates the anonymous install identifier attached to
// telemetry events. 12 hex characters formatted XXXX-XXXX-XXXX.
func GenerateSystemID() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	id := hex.EncodeToString(bytes)
	formatted := fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])
	return strings.ToUpper(formatted), nil
}

// IsValidSystemID checks the XXXX-XXXX-XXXX format.
func IsValidSystemID(id string) bool {
	if len(id) != 14 {
		return false
	}
	if id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, char := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(char) {
			return false
		}
	}
	return true
}

// categorizeHost anonymizes hostnames while preserving useful categorization.
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}
	if isPrivateIP(host) {
		return "private-ip"
	}
	if isIPAddress(host) {
		return "public-ip"
	}

	// For domain names, preserve the TLD only
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath keeps the path's shape without its contents.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	anonymized := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		switch {
		case isCommonAPISegment(segment):
			anonymized = append(anonymized, strings.ToLower(segment))
		case isNumeric(segment):
			anonymized = append(anonymized, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			anonymized = append(anonymized, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(anonymized, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
		"172.21.", "172.22.", "172.23.", "172.24.", "172.25.", "172.26.",
		"172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:", "::1",
		"ff00:", "ff01:", "ff02:",
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(strings.ToLower(host), prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	return strings.Contains(host, ":")
}

// isCommonAPISegment reports whether a path segment is generic API
// vocabulary safe to keep verbatim. Anything that could be a plate or a
// device name gets hashed instead.
func isCommonAPISegment(segment string) bool {
	commonNames := []string{
		"api", "v1", "webhook", "sync", "events", "devices", "rules",
		"gate", "open", "health", "heartbeat", "fingerprint", "snapshot",
	}
	segment = strings.ToLower(segment)
	for _, name := range commonNames {
		if segment == name {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
