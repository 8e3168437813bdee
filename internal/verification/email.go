package verification

import (
	"fmt"
	"strings"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

// EmailVerifier proves ownership when the user's already-verified email
// lives on the same root domain as the server. There is no token round-trip:
// the email verification done at signup is the proof. This is the only
// strategy that needs user identity.
type EmailVerifier struct{}

// NewEmailVerifier returns the strategy.
func NewEmailVerifier() *EmailVerifier { return &EmailVerifier{} }

func (v *EmailVerifier) Method() models.VerificationMethod { return models.MethodEmail }

// Available only when the host is a domain name.
func (v *EmailVerifier) Available(server *models.Server) bool {
	host := hostDomain(server.Host)
	return host != "" && !isIPAddress(host)
}

// AvailableForUser additionally requires the user's email domain to match
// the server's root domain.
func (v *EmailVerifier) AvailableForUser(server *models.Server, user *models.User) bool {
	if !v.Available(server) {
		return false
	}
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return false
	}

	serverDomain := rootDomain(server.Host)
	userDomain := emailDomain(user.Email)
	return serverDomain != "" && userDomain != "" && strings.EqualFold(serverDomain, userDomain)
}

func (v *EmailVerifier) UnavailableReason(server *models.Server, user *models.User) string {
	if !v.Available(server) {
		return "Email verification requires the server to have a domain name (not an IP address)."
	}
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return "Email verification requires a verified email address."
	}

	serverDomain := rootDomain(server.Host)
	userDomain := emailDomain(user.Email)

	if serverDomain == "" {
		return "Could not determine the server's domain."
	}
	if userDomain == "" {
		return "Could not determine your email domain."
	}
	if !strings.EqualFold(serverDomain, userDomain) {
		return fmt.Sprintf(
			"Your email domain (%s) does not match the server's domain (%s). "+
				"Email verification requires your registered email to be from the same domain as the server.",
			userDomain, serverDomain)
	}
	return ""
}

func (v *EmailVerifier) Instructions(server *models.Server, token string) string {
	domain := rootDomain(server.Host)
	if domain == "" {
		domain = server.Host
	}

	return fmt.Sprintf(`Email Domain Verification:

Your registered email address matches the server's domain (%s).

Since you have already verified your email during account registration,
we can confirm that you have access to emails for this domain.

Click "Verify" to complete the verification process.

Note: This verification method is instant and does not require any
additional steps since your email ownership has already been confirmed.
`, domain)
}

// Verify without user context cannot succeed; the claim engine always calls
// VerifyWithUser for this strategy.
func (v *EmailVerifier) Verify(server *models.Server, token string) Result {
	log.Warn().Str("server", server.ID.String()).Msg("Email verification invoked without user context")
	return Result{Message: "Email verification requires user context. Please try again."}
}

func (v *EmailVerifier) VerifyWithUser(server *models.Server, token string, user *models.User) Result {
	if user == nil || user.Email == "" {
		return Result{Message: "User email information is required."}
	}

	serverDomain := rootDomain(server.Host)
	userDomain := emailDomain(user.Email)

	if serverDomain == "" {
		return Result{Message: "Could not determine the server's domain. Please use a different verification method."}
	}
	if userDomain == "" {
		return Result{Message: "Could not determine your email domain. Please contact support."}
	}
	if !strings.EqualFold(serverDomain, userDomain) {
		return Result{Message: fmt.Sprintf(
			"Your email domain (%s) does not match the server's domain (%s).", userDomain, serverDomain)}
	}

	if !user.EmailVerified {
		return Result{Message: "Your email address has not been verified. Please verify your email first."}
	}

	log.Info().
		Str("server", server.ID.String()).
		Str("user", user.ID.String()).
		Msg("Email verification successful")
	return Result{Success: true, Message: "Verification successful! Your server ownership has been confirmed via email domain matching."}
}
