package verification

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

const dnsRecordPrefix = "_hol-verify."
const dnsValuePrefix = "hol-verify="

// TXTResolver is the one resolver call this strategy needs. *net.Resolver
// satisfies it; tests inject a stub.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSTxtVerifier proves ownership through a TXT record: either an exact
// token at _hol-verify.<domain>, or "hol-verify=<token>" at the root domain.
type DNSTxtVerifier struct {
	resolver TXTResolver
	timeout  time.Duration
}

// NewDNSTxtVerifier builds the strategy around a resolver. A nil resolver
// gets the Go-native default.
func NewDNSTxtVerifier(resolver TXTResolver, timeout time.Duration) *DNSTxtVerifier {
	if resolver == nil {
		resolver = &net.Resolver{PreferGo: true}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSTxtVerifier{resolver: resolver, timeout: timeout}
}

func (v *DNSTxtVerifier) Method() models.VerificationMethod { return models.MethodDNSTxt }

// Available only when the host is a domain name, not an IP literal.
func (v *DNSTxtVerifier) Available(server *models.Server) bool {
	host := hostDomain(server.Host)
	return host != "" && !isIPAddress(host)
}

func (v *DNSTxtVerifier) AvailableForUser(server *models.Server, user *models.User) bool {
	return v.Available(server)
}

func (v *DNSTxtVerifier) UnavailableReason(server *models.Server, user *models.User) string {
	if !v.Available(server) {
		return RequirementHint(models.MethodDNSTxt)
	}
	return ""
}

func (v *DNSTxtVerifier) Instructions(server *models.Server, token string) string {
	domain := hostDomain(server.Host)

	return fmt.Sprintf(`To verify ownership using DNS verification:

1. Add a TXT record to your domain's DNS settings:

   Host/Name: %s%s
   Type: TXT
   Value: %s

   OR add to your root domain:

   Host/Name: %s
   Type: TXT
   Value: %s%s

2. Wait for DNS propagation (usually 5-15 minutes, can take up to 48 hours).

3. Click the "Verify" button below once the DNS record is active.

Note: You can remove the TXT record after successful verification.
`, dnsRecordPrefix, domain, token, domain, dnsValuePrefix, token)
}

// Verify looks the records up. Resolution failures count as "not found",
// never as a hard error.
func (v *DNSTxtVerifier) Verify(server *models.Server, token string) Result {
	domain := hostDomain(server.Host)

	if v.lookup(dnsRecordPrefix+domain, token, false) {
		log.Info().Str("server", server.ID.String()).Msg("DNS TXT verification successful via subdomain record")
		return Result{Success: true, Message: "Verification successful! Your domain ownership has been confirmed."}
	}

	if v.lookup(domain, dnsValuePrefix+token, true) {
		log.Info().Str("server", server.ID.String()).Msg("DNS TXT verification successful via root domain record")
		return Result{Success: true, Message: "Verification successful! Your domain ownership has been confirmed."}
	}

	return Result{Message: "DNS TXT record not found. Please ensure you've added the TXT record and " +
		"waited for DNS propagation (this can take up to 48 hours)."}
}

func (v *DNSTxtVerifier) VerifyWithUser(server *models.Server, token string, user *models.User) Result {
	return v.Verify(server, token)
}

// lookup checks the TXT records of name for the expected value; with
// allowContains the value may also merely contain it.
func (v *DNSTxtVerifier) lookup(name, expected string, allowContains bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	records, err := v.resolver.LookupTXT(ctx, name)
	if err != nil {
		log.Debug().Err(err).Str("name", name).Msg("DNS TXT lookup failed")
		return false
	}

	for _, record := range records {
		value := strings.Trim(record, `"`)
		if value == expected {
			return true
		}
		if allowContains && strings.Contains(value, expected) {
			return true
		}
	}
	return false
}
