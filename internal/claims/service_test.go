package claims

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/verification"
)

// scriptedVerifier is a controllable strategy for one method.
type scriptedVerifier struct {
	method    models.VerificationMethod
	available bool
	succeed   bool
}

func (v *scriptedVerifier) Method() models.VerificationMethod { return v.method }
func (v *scriptedVerifier) Available(*models.Server) bool     { return v.available }
func (v *scriptedVerifier) AvailableForUser(*models.Server, *models.User) bool {
	return v.available
}
func (v *scriptedVerifier) UnavailableReason(*models.Server, *models.User) string {
	if v.available {
		return ""
	}
	return "Scripted unavailable reason."
}
func (v *scriptedVerifier) Instructions(*models.Server, string) string { return "do the thing" }
func (v *scriptedVerifier) Verify(*models.Server, string) verification.Result {
	return v.result()
}
func (v *scriptedVerifier) VerifyWithUser(*models.Server, string, *models.User) verification.Result {
	return v.result()
}
func (v *scriptedVerifier) result() verification.Result {
	if v.succeed {
		return verification.Result{Success: true, Message: "ok"}
	}
	return verification.Result{Message: "proof not in place"}
}

type fixture struct {
	store    *storage.Store
	service  *Service
	verifier *scriptedVerifier
	now      time.Time
	server   *models.Server
	user     *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		verifier: &scriptedVerifier{method: models.MethodMOTD, available: true},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	registry := verification.NewRegistry(f.verifier)
	f.service = NewService(store, registry, nil, func() time.Time { return f.now })

	f.server = &models.Server{
		ID:        uuid.New(),
		Name:      "Claimable",
		Slug:      "claimable",
		Host:      "mc.example.com",
		Port:      5520,
		CreatedAt: f.now,
	}
	require.NoError(t, store.InsertServer(f.server))

	f.user = f.addUser(t)

	return f
}

func (f *fixture) addUser(t *testing.T) *models.User {
	t.Helper()

	u := &models.User{
		ID:            uuid.New(),
		Username:      "owner-" + uuid.NewString()[:8],
		Email:         "admin@example.com",
		EmailVerified: true,
	}
	require.NoError(t, f.store.InsertUser(u))

	return u
}

func TestInitiateMintsToken(t *testing.T) {
	f := newFixture(t)

	init, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	assert.Len(t, init.Token, 16)
	for _, c := range init.Token {
		assert.Contains(t, tokenAlphabet, string(c))
	}
	assert.Equal(t, f.now.Add(48*time.Hour), init.ExpiresAt)
	assert.Equal(t, int64(0), init.OtherClaimers)
	assert.NotEmpty(t, init.Instructions)

	srv, err := f.store.GetServer(f.server.ID)
	require.NoError(t, err)
	require.NotNil(t, srv.ClaimToken)
	assert.Equal(t, init.Token, *srv.ClaimToken)
}

func TestInitiateSharesTokenBetweenClaimers(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t)

	first, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	second, err := f.service.Initiate(f.server.ID, other.ID, models.MethodMOTD)
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token, "concurrent claimers race for one shared token")
	assert.Equal(t, int64(1), second.OtherClaimers)
}

func TestInitiateIsIdempotentForActiveClaim(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	// Bump the attempt counter so we can observe it surviving.
	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	init.AttemptCount = 2
	require.NoError(t, f.store.SaveInitiation(init))

	_, err = f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	got, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount, "re-initiating an active claim keeps its counters")
	assert.Equal(t, models.ClaimPending, got.Status)
}

func TestInitiateRestartsSettledClaim(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)
	require.NoError(t, f.service.Cancel(f.server.ID, f.user.ID))

	_, err = f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	got, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.CancelledAt)
}

func TestInitiateRejectsVerifiedServer(t *testing.T) {
	f := newFixture(t)
	winner := f.addUser(t)

	_, err := f.store.FinalizeVerifiedClaim(f.server.ID, winner.ID, models.MethodMOTD, f.now)
	require.NoError(t, err)

	_, err = f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	_, isRejection := IsRejection(err)
	require.True(t, isRejection)
	assert.Contains(t, err.Error(), "already been claimed")
}

func TestInitiateRejectsUnavailableMethod(t *testing.T) {
	f := newFixture(t)
	f.verifier.available = false

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	rej, ok := IsRejection(err)
	require.True(t, ok)
	assert.Contains(t, rej.Message, "Scripted unavailable reason")
}

func TestInitiateUnknownServer(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(uuid.New(), f.user.ID, models.MethodMOTD)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTokenReuseAndRemint(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	// Still live a minute before expiry: reused.
	f.now = first.ExpiresAt.Add(-time.Minute)
	again, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)
	assert.Equal(t, first.Token, again.Token)

	// A token expiring exactly now is dead: a fresh one is minted.
	f.now = first.ExpiresAt
	fresh, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, fresh.Token)
	assert.Equal(t, f.now.Add(48*time.Hour), fresh.ExpiresAt)
}

func TestAttemptVerificationWins(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	f.verifier.succeed = true
	outcome, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, outcome.Verified)

	srv, err := f.store.GetServer(f.server.ID)
	require.NoError(t, err)
	require.NotNil(t, srv.OwnerID)
	assert.Equal(t, f.user.ID, *srv.OwnerID)
	assert.Nil(t, srv.ClaimToken)

	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimVerified, init.Status)
	assert.Equal(t, 1, init.AttemptCount)

	// Audit row recorded with the source IP.
	n, err := f.store.CountAttemptsByUserSince(f.user.ID, f.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAttemptVerificationFailureIsAudited(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	outcome, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, outcome.Verified)
	assert.Equal(t, "proof not in place", outcome.Message)

	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPending, init.Status, "failed attempts keep the claim alive")
	assert.Equal(t, 1, init.AttemptCount)

	n, err := f.store.CountAttemptsByUserSince(f.user.ID, f.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAttemptVerificationIdempotentForWinner(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)
	f.verifier.succeed = true
	_, err = f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	require.NoError(t, err)

	outcome, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, outcome.Verified)
	assert.Contains(t, outcome.Message, "already verified")
}

func TestAttemptVerificationLostRace(t *testing.T) {
	f := newFixture(t)
	rival := f.addUser(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)
	_, err = f.service.Initiate(f.server.ID, rival.ID, models.MethodMOTD)
	require.NoError(t, err)

	f.verifier.succeed = true
	_, err = f.service.AttemptVerification(f.server.ID, rival.ID, "198.51.100.2")
	require.NoError(t, err)

	// The loser's next attempt sees the settled server.
	_, err = f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	rej, ok := IsRejection(err)
	require.True(t, ok)
	assert.Contains(t, rej.Message, "claimed by another user")

	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimClaimedByOther, init.Status)
}

func TestAttemptVerificationWithoutInitiation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	rej, ok := IsRejection(err)
	require.True(t, ok)
	assert.Contains(t, rej.Message, "initiate a claim first")
}

func TestAttemptVerificationExpiredClaim(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	f.now = f.now.Add(48 * time.Hour) // expiry boundary: exactly now is expired

	_, err = f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
	rej, ok := IsRejection(err)
	require.True(t, ok)
	assert.Contains(t, rej.Message, "expired")

	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimExpired, init.Status)
}

func TestAttemptVerificationRateLimits(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	t.Run("hourly cap", func(t *testing.T) {
		for i := 0; i < maxPerHour; i++ {
			_, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
			require.NoError(t, err)
		}

		_, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
		rej, ok := IsRejection(err)
		require.True(t, ok)
		assert.Contains(t, rej.Message, "wait an hour")
	})

	t.Run("daily cap", func(t *testing.T) {
		// Spread attempts over fake hours until the daily cap is reached.
		attempts := maxPerHour
		for attempts < maxPerDay {
			f.now = f.now.Add(time.Hour + time.Minute)
			for i := 0; i < maxPerHour && attempts < maxPerDay; i++ {
				_, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
				require.NoError(t, err)
				attempts++
			}
		}

		f.now = f.now.Add(time.Hour + time.Minute)
		_, err := f.service.AttemptVerification(f.server.ID, f.user.ID, "203.0.113.7")
		rej, ok := IsRejection(err)
		require.True(t, ok)
		assert.Contains(t, rej.Message, "Daily")
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(f.server.ID, f.user.ID))

	init, err := f.store.GetInitiation(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimCancelled, init.Status)
	require.NotNil(t, init.CancelledAt)

	// Cancelling a settled claim is rejected.
	err = f.service.Cancel(f.server.ID, f.user.ID)
	_, ok := IsRejection(err)
	assert.True(t, ok)
}

func TestExpirePendingSweep(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	f.now = f.now.Add(49 * time.Hour)
	n, err := f.service.ExpirePending()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStatusAndAvailableMethods(t *testing.T) {
	f := newFixture(t)

	state, err := f.service.Status(f.server.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, state.ServerVerified)
	assert.Nil(t, state.Initiation)

	_, err = f.service.Initiate(f.server.ID, f.user.ID, models.MethodMOTD)
	require.NoError(t, err)

	state, err = f.service.Status(f.server.ID, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, state.Initiation)
	assert.Equal(t, models.ClaimPending, state.Initiation.Status)
	require.NotNil(t, state.TokenExpiresAt)

	methods, err := f.service.AvailableMethods(f.server.ID, f.user.ID)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, models.MethodMOTD, methods[0].Method)
	assert.True(t, methods[0].Available)
}

func TestGenerateTokenAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, err := generateToken()
		require.NoError(t, err)
		require.Len(t, token, tokenLength)
		for _, c := range token {
			assert.Contains(t, tokenAlphabet, string(c))
		}
		seen[token] = true
	}
	assert.Greater(t, len(seen), 45, "tokens should be effectively unique")
}
