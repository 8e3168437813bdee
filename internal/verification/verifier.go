// Package verification implements the ownership-proof strategies: reading a
// token from the server's MOTD, a DNS TXT record lookup, an HTTP fetch of a
// token file, and a registered-email-domain match.
package verification

import (
	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
)

// TokenMarker prefixes the claim token wherever owners are told to place it
// ("HOL-<token>" in a MOTD, "hol-verify=<token>" in DNS, and so on).
const TokenMarker = "HOL-"

// Result is the outcome of one verification attempt. Message is always a
// specific, user-facing explanation.
type Result struct {
	Success bool
	Message string
}

// Verifier is one ownership-proof strategy. Transport failures never come
// back as errors: they are folded into a failed Result with a "could not
// connect"-style message.
type Verifier interface {
	// Method returns the strategy tag.
	Method() models.VerificationMethod

	// Available reports whether the strategy can run against this server
	// at all (e.g. DNS needs a domain, file upload needs a website).
	Available(server *models.Server) bool

	// AvailableForUser adds user-specific conditions; most strategies
	// just delegate to Available.
	AvailableForUser(server *models.Server, user *models.User) bool

	// UnavailableReason explains why the strategy cannot run for this
	// server/user, or returns "" when it can.
	UnavailableReason(server *models.Server, user *models.User) string

	// Instructions tells the owner what to do with the token.
	Instructions(server *models.Server, token string) string

	// Verify checks whether the proof is in place.
	Verify(server *models.Server, token string) Result

	// VerifyWithUser is Verify with user identity; only the email
	// strategy actually uses it.
	VerifyWithUser(server *models.Server, token string, user *models.User) Result
}

// Registry maps each verification method to its strategy, built once at
// startup. Lookup by tag keeps dispatch a plain map access.
type Registry struct {
	verifiers map[models.VerificationMethod]Verifier
}

// NewRegistry indexes the given verifiers by method.
func NewRegistry(verifiers ...Verifier) *Registry {
	m := make(map[models.VerificationMethod]Verifier, len(verifiers))
	for _, v := range verifiers {
		m[v.Method()] = v
	}
	return &Registry{verifiers: m}
}

// Get returns the verifier for a method, or nil for an unknown tag.
func (r *Registry) Get(method models.VerificationMethod) Verifier {
	return r.verifiers[method]
}

// All returns every registered verifier.
func (r *Registry) All() []Verifier {
	out := make([]Verifier, 0, len(r.verifiers))
	for _, v := range r.verifiers {
		out = append(out, v)
	}
	return out
}

// RequirementHint is the generic explanation of what a method needs, used
// when a strategy has no user-specific reason to give.
func RequirementHint(method models.VerificationMethod) string {
	switch method {
	case models.MethodMOTD:
		return "Requires the server to be online and queryable."
	case models.MethodDNSTxt:
		return "Requires a domain name (not an IP address)."
	case models.MethodFileUpload:
		return "Requires a website URL configured for the server."
	case models.MethodEmail:
		return "Requires your registered email domain to match the server's domain."
	default:
		return ""
	}
}

// MethodDescription is the one-line summary shown when listing methods.
func MethodDescription(method models.VerificationMethod) string {
	switch method {
	case models.MethodMOTD:
		return "Add a verification code to your server's Message of the Day (MOTD)."
	case models.MethodDNSTxt:
		return "Add a DNS TXT record to your domain to prove ownership."
	case models.MethodFileUpload:
		return "Upload a verification file to your website's root directory."
	case models.MethodEmail:
		return "Verify using your registered email that matches the server's domain."
	default:
		return ""
	}
}
