package verification

import (
	"fmt"
	"strings"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/rs/zerolog/log"
)

// Prober is the slice of the query orchestrator the MOTD strategy needs.
type Prober interface {
	Probe(target query.Target) query.Result
}

// MOTDVerifier proves ownership by finding "HOL-<token>" in the server's
// MOTD (or server name) via a live probe.
type MOTDVerifier struct {
	prober Prober
}

// NewMOTDVerifier wires the strategy to the query orchestrator.
func NewMOTDVerifier(p Prober) *MOTDVerifier {
	return &MOTDVerifier{prober: p}
}

func (v *MOTDVerifier) Method() models.VerificationMethod { return models.MethodMOTD }

// Available whenever the server has a host to query.
func (v *MOTDVerifier) Available(server *models.Server) bool {
	return strings.TrimSpace(server.Host) != ""
}

func (v *MOTDVerifier) AvailableForUser(server *models.Server, user *models.User) bool {
	return v.Available(server)
}

func (v *MOTDVerifier) UnavailableReason(server *models.Server, user *models.User) string {
	if !v.Available(server) {
		return RequirementHint(models.MethodMOTD)
	}
	return ""
}

func (v *MOTDVerifier) Instructions(server *models.Server, token string) string {
	return fmt.Sprintf(`To verify ownership using MOTD verification:

1. Add the following code to your server's MOTD or server description:
   %s%s

2. Make sure your server is online and accessible at:
   %s:%d

3. Click the "Verify" button below once the code is added.

4. After successful verification, you can remove the code from your MOTD.

Note: The verification code expires in 48 hours.
`, TokenMarker, token, server.Host, server.Port)
}

// Verify probes the server and looks for the marker in the MOTD or the
// server name. An unreachable server is a failed verification, not an error.
func (v *MOTDVerifier) Verify(server *models.Server, token string) Result {
	expected := TokenMarker + token

	res := v.prober.Probe(query.TargetFor(server))
	if !res.Online {
		log.Debug().
			Str("server", server.ID.String()).
			Str("error", res.Error).
			Msg("MOTD verification probe failed")
		return Result{Message: "Could not connect to server. Please ensure your server is online and try again."}
	}

	if strings.Contains(res.MOTD, expected) || strings.Contains(res.ServerName, expected) {
		log.Info().Str("server", server.ID.String()).Msg("MOTD verification successful")
		return Result{Success: true, Message: "Verification successful! Your server ownership has been confirmed."}
	}

	return Result{Message: fmt.Sprintf(
		"Verification code not found in server MOTD. Please ensure you added '%s%s' to your server's MOTD and try again.",
		TokenMarker, token)}
}

func (v *MOTDVerifier) VerifyWithUser(server *models.Server, token string, user *models.User) Result {
	return v.Verify(server, token)
}
