// Package claims implements the ownership-claim lifecycle: several users may
// race to prove control of the same server with a shared token, and exactly
// one of them wins. Everything funnels through one compare-and-set in the
// storage layer, so the engine itself stays free of locks.
package claims

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/verification"
)

const (
	tokenLength   = 16
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenTTL      = 48 * time.Hour
	maxPerHour    = 5
	maxPerDay     = 20
	retentionDays = 90
)

// CountryResolver maps a source IP to an ISO country code for the audit
// trail. A nil resolver (or an unresolvable IP) yields "".
type CountryResolver interface {
	CountryCode(ip string) string
}

// Service drives claim initiations, verification attempts and the periodic
// sweeps. The clock is injected so expiry and rate-limit windows are testable.
type Service struct {
	store    *storage.Store
	registry *verification.Registry
	geo      CountryResolver
	now      func() time.Time
}

// NewService wires the engine. geo may be nil; a nil clock defaults to
// time.Now.
func NewService(store *storage.Store, registry *verification.Registry, geo CountryResolver, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, registry: registry, geo: geo, now: clock}
}

// Initiation is what a caller gets back from Initiate: the token to place,
// how to place it, and how much competition there is.
type Initiation struct {
	ServerID      uuid.UUID
	Method        models.VerificationMethod
	Token         string
	ExpiresAt     time.Time
	Instructions  string
	OtherClaimers int64
}

// ClaimState is the Status projection of one user's claim on one server.
type ClaimState struct {
	ServerID       uuid.UUID
	ServerVerified bool
	Initiation     *models.ClaimInitiation
	TokenExpiresAt *time.Time
}

// MethodInfo describes one verification method's applicability for a
// (server, user) pair.
type MethodInfo struct {
	Method      models.VerificationMethod
	DisplayName string
	Description string
	Available   bool
	Reason      string
}

// Outcome is the result of one verification attempt.
type Outcome struct {
	Verified bool
	Message  string
}

// Initiate starts (or restarts) a user's claim on a server with the chosen
// method. The server-wide token is shared between concurrent claimers: an
// unexpired token is reused, otherwise a fresh one is minted for everyone.
func (s *Service) Initiate(serverID, userID uuid.UUID, method models.VerificationMethod) (*Initiation, error) {
	now := s.now()

	server, err := s.store.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}
	if server.Verified() {
		return nil, reject("This server has already been claimed and verified.")
	}

	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	if !method.Valid() {
		return nil, reject("Unknown verification method: %s", method)
	}
	verifier := s.registry.Get(method)
	if verifier == nil {
		return nil, reject("Verification method %s is not supported.", method.DisplayName())
	}
	if !verifier.AvailableForUser(server, user) {
		reason := verifier.UnavailableReason(server, user)
		if reason == "" {
			reason = verification.RequirementHint(method)
		}
		return nil, reject("%s is not available for this server. %s", method.DisplayName(), reason)
	}

	token, expiry, err := s.ensureToken(server, now)
	if err != nil {
		return nil, err
	}

	init, err := s.store.GetInitiation(serverID, userID)
	if err != nil {
		return nil, err
	}

	switch {
	case init == nil:
		init = &models.ClaimInitiation{
			ID:          uuid.New(),
			ServerID:    serverID,
			UserID:      userID,
			Method:      method,
			Status:      models.ClaimPending,
			InitiatedAt: now,
			ExpiresAt:   expiry,
		}
	case init.Status == models.ClaimPending && !init.Expired(now):
		// Re-initiating an active claim only switches the method; the
		// attempt counters and timestamps keep accumulating.
		init.Method = method
		init.ExpiresAt = expiry
	default:
		// A settled (or silently lapsed) initiation restarts from scratch.
		init.Method = method
		init.Status = models.ClaimPending
		init.InitiatedAt = now
		init.ExpiresAt = expiry
		init.AttemptCount = 0
		init.LastAttemptAt = nil
		init.CancelledAt = nil
		init.CompletedAt = nil
	}

	if err := s.store.SaveInitiation(init); err != nil {
		return nil, err
	}

	others, err := s.store.CountActiveClaims(serverID, now)
	if err != nil {
		return nil, err
	}
	if others > 0 {
		others-- // exclude the caller's own initiation
	}

	log.Info().
		Str("server", serverID.String()).
		Str("user", userID.String()).
		Str("method", string(method)).
		Int64("other_claimers", others).
		Msg("Claim initiated")

	return &Initiation{
		ServerID:      serverID,
		Method:        method,
		Token:         token,
		ExpiresAt:     init.ExpiresAt,
		Instructions:  verifier.Instructions(server, token),
		OtherClaimers: others,
	}, nil
}

// AttemptVerification runs the user's chosen strategy and, on success, tries
// to win the server through the storage CAS. Every attempt is audited whether
// it succeeds, fails, or loses the race.
func (s *Service) AttemptVerification(serverID, userID uuid.UUID, sourceIP string) (*Outcome, error) {
	now := s.now()

	server, err := s.store.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}

	// Idempotent re-verify: the winner asking again just gets a yes.
	if server.Verified() {
		if server.OwnerID != nil && *server.OwnerID == userID {
			return &Outcome{Verified: true, Message: "Your server ownership is already verified."}, nil
		}
		return nil, reject("This server has already been claimed by another user.")
	}

	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	init, err := s.store.GetInitiation(serverID, userID)
	if err != nil {
		return nil, err
	}
	if init == nil {
		return nil, reject("No claim found for this server. Please initiate a claim first.")
	}
	if init.Status != models.ClaimPending {
		return nil, reject("Your claim is no longer active (%s). Please initiate a new claim.",
			init.Status.DisplayName())
	}
	if init.Expired(now) {
		if err := s.store.MarkInitiationExpired(init.ID, now); err != nil {
			log.Error().Err(err).Str("claim", init.ID.String()).Msg("Failed to expire stale claim")
		}
		return nil, reject("Your claim has expired. Please initiate a new claim.")
	}
	if !server.HasLiveClaimToken(now) {
		return nil, reject("The verification token has expired. Please initiate a new claim.")
	}

	if err := s.checkRateLimits(userID, now); err != nil {
		return nil, err
	}

	verifier := s.registry.Get(init.Method)
	if verifier == nil {
		return nil, reject("Verification method %s is not supported.", init.Method.DisplayName())
	}

	result := verifier.VerifyWithUser(server, *server.ClaimToken, user)

	init.AttemptCount++
	init.LastAttemptAt = &now
	if err := s.store.SaveInitiation(init); err != nil {
		return nil, err
	}

	outcome := &Outcome{Verified: result.Success, Message: result.Message}

	if result.Success {
		won, err := s.store.FinalizeVerifiedClaim(serverID, userID, init.Method, now)
		if err != nil {
			return nil, err
		}
		if !won {
			outcome.Verified = false
			outcome.Message = "Another user completed verification for this server first."
			result.Success = false
			result.Message = outcome.Message
		} else {
			log.Info().
				Str("server", serverID.String()).
				Str("user", userID.String()).
				Str("method", string(init.Method)).
				Msg("Server ownership verified")
		}
	}

	s.audit(serverID, userID, init.Method, result, sourceIP, now)

	return outcome, nil
}

// Cancel withdraws the user's pending claim. Cancelling a settled claim is a
// rejection, not a no-op.
func (s *Service) Cancel(serverID, userID uuid.UUID) error {
	now := s.now()

	init, err := s.store.GetInitiation(serverID, userID)
	if err != nil {
		return err
	}
	if init == nil {
		return fmt.Errorf("claim for server %s: %w", serverID, ErrNotFound)
	}
	if init.Status != models.ClaimPending {
		return reject("Only pending claims can be cancelled (current status: %s).",
			init.Status.DisplayName())
	}

	if err := s.store.MarkInitiationCancelled(init.ID, now); err != nil {
		return err
	}

	log.Info().
		Str("server", serverID.String()).
		Str("user", userID.String()).
		Msg("Claim cancelled")
	return nil
}

// Status reports the user's claim on a server, if any.
func (s *Service) Status(serverID, userID uuid.UUID) (*ClaimState, error) {
	server, err := s.store.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}

	init, err := s.store.GetInitiation(serverID, userID)
	if err != nil {
		return nil, err
	}

	return &ClaimState{
		ServerID:       serverID,
		ServerVerified: server.Verified(),
		Initiation:     init,
		TokenExpiresAt: server.ClaimTokenExpiry,
	}, nil
}

// AvailableMethods lists every strategy with its applicability for this
// server and user, in a stable order.
func (s *Service) AvailableMethods(serverID, userID uuid.UUID) ([]MethodInfo, error) {
	server, err := s.store.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrNotFound)
	}
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	order := []models.VerificationMethod{
		models.MethodMOTD, models.MethodDNSTxt, models.MethodFileUpload, models.MethodEmail,
	}

	infos := make([]MethodInfo, 0, len(order))
	for _, method := range order {
		verifier := s.registry.Get(method)
		if verifier == nil {
			continue
		}
		info := MethodInfo{
			Method:      method,
			DisplayName: method.DisplayName(),
			Description: verification.MethodDescription(method),
			Available:   verifier.AvailableForUser(server, user),
		}
		if !info.Available {
			info.Reason = verifier.UnavailableReason(server, user)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ExpirePending sweeps every overdue PENDING initiation to EXPIRED.
func (s *Service) ExpirePending() (int64, error) {
	n, err := s.store.ExpirePendingClaims(s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired stale claim initiations")
	}
	return n, nil
}

// Cleanup purges settled initiations (and old audit rows) beyond the
// retention window.
func (s *Service) Cleanup() (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	n, err := s.store.DeleteTerminalClaimsBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Cleaned up old claim records")
	}
	return n, nil
}

// ensureToken returns the server's live claim token, minting and persisting a
// fresh one when none exists or the current one has expired.
func (s *Service) ensureToken(server *models.Server, now time.Time) (string, time.Time, error) {
	if server.HasLiveClaimToken(now) {
		return *server.ClaimToken, *server.ClaimTokenExpiry, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiry := now.Add(tokenTTL)

	if err := s.store.SetClaimToken(server.ID, token, expiry); err != nil {
		return "", time.Time{}, err
	}
	server.ClaimToken = &token
	server.ClaimTokenExpiry = &expiry
	return token, expiry, nil
}

// checkRateLimits enforces the per-hour and per-day attempt caps, counted
// from the audit table rather than a mutable counter.
func (s *Service) checkRateLimits(userID uuid.UUID, now time.Time) error {
	hourly, err := s.store.CountAttemptsByUserSince(userID, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourly >= maxPerHour {
		return reject("Too many verification attempts. Please wait an hour before trying again.")
	}

	daily, err := s.store.CountAttemptsByUserSince(userID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if daily >= maxPerDay {
		return reject("Daily verification attempt limit reached. Please try again tomorrow.")
	}
	return nil
}

// audit appends the attempt to the log; a failure to audit never fails the
// attempt itself.
func (s *Service) audit(serverID, userID uuid.UUID, method models.VerificationMethod, result verification.Result, sourceIP string, now time.Time) {
	attempt := &models.ClaimAttempt{
		ServerID:    serverID,
		UserID:      userID,
		Method:      method,
		Successful:  result.Success,
		SourceIP:    sourceIP,
		AttemptedAt: now,
	}
	if !result.Success {
		attempt.FailureReason = result.Message
	}
	if s.geo != nil && sourceIP != "" {
		attempt.CountryCode = s.geo.CountryCode(sourceIP)
	}

	if err := s.store.InsertAttempt(attempt); err != nil {
		log.Error().Err(err).
			Str("server", serverID.String()).
			Str("user", userID.String()).
			Msg("Failed to record claim attempt")
	}
}

// generateToken mints a 16-character token from the uppercase alphanumeric
// alphabet using crypto/rand.
func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}
