package verification

import (
	"regexp"
	"strings"
)

// Deliberately a dotted-quad pattern, not a full IP parse: anything that
// does not look like an IPv4 literal is treated as a domain.
var ipv4Pattern = regexp.MustCompile(`^((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)

// isIPAddress reports whether the host looks like an IPv4 literal.
func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host)
}

// hostDomain strips a trailing :port and lowercases the host.
func hostDomain(host string) string {
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// rootDomain extracts the registrable domain from a hostname:
// "play.example.com" -> "example.com". A small table of known two-part TLDs
// extends the cut to three labels ("mc.example.co.uk" -> "example.co.uk").
// This is not a public-suffix-list implementation and mis-extracts domains
// outside that table. Returns "" for blanks and IP literals.
func rootDomain(host string) string {
	domain := hostDomain(host)
	if domain == "" || isIPAddress(domain) {
		return ""
	}

	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return domain
	}

	last := parts[len(parts)-1]
	secondLast := parts[len(parts)-2]

	if len(parts) >= 3 && isTwoPartTLD(secondLast, last) {
		return parts[len(parts)-3] + "." + secondLast + "." + last
	}

	return secondLast + "." + last
}

func isTwoPartTLD(secondLevel, topLevel string) bool {
	switch secondLevel {
	case "co", "com", "org", "net", "gov", "edu", "ac":
	default:
		return false
	}
	switch topLevel {
	case "uk", "au", "nz", "za", "in", "jp":
		return true
	}
	return false
}

// emailDomain extracts the domain of an email address, or "" when the
// address is not of the form local@domain.
func emailDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}
