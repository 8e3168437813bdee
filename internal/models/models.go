// Package models defines the entities and enums shared between the storage
// layer, the probing engine, and the claim engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryProtocol identifies which driver produced a query result.
// It is also cached on a server as the preferred protocol for the next probe.
type QueryProtocol string

const (
	// ProtocolHyQuery is the native Hytale query plugin (UDP, game port).
	ProtocolHyQuery QueryProtocol = "HYQUERY"
	// ProtocolNitrado is the Nitrado Query plugin HTTPS API.
	ProtocolNitrado QueryProtocol = "NITRADO"
	// ProtocolQuic is the QUIC presence ping on the game port.
	ProtocolQuic QueryProtocol = "QUIC"
	// ProtocolBasicPing is the ICMP/TCP reachability fallback.
	ProtocolBasicPing QueryProtocol = "BASIC_PING"
	// ProtocolFailed marks a result where no protocol worked.
	ProtocolFailed QueryProtocol = "FAILED"
)

// VerificationMethod is how a user proves control of a server.
type VerificationMethod string

const (
	MethodMOTD       VerificationMethod = "MOTD"
	MethodDNSTxt     VerificationMethod = "DNS_TXT"
	MethodFileUpload VerificationMethod = "FILE_UPLOAD"
	MethodEmail      VerificationMethod = "EMAIL"
)

// DisplayName returns the human-readable name of the method.
func (m VerificationMethod) DisplayName() string {
	switch m {
	case MethodMOTD:
		return "MOTD Verification"
	case MethodDNSTxt:
		return "DNS TXT Record"
	case MethodFileUpload:
		return "File Upload"
	case MethodEmail:
		return "Email Verification"
	default:
		return string(m)
	}
}

// Valid reports whether m is one of the known methods.
func (m VerificationMethod) Valid() bool {
	switch m {
	case MethodMOTD, MethodDNSTxt, MethodFileUpload, MethodEmail:
		return true
	}
	return false
}

// ClaimStatus is the lifecycle state of a claim initiation.
// PENDING is the only non-terminal state; a row leaves it exactly once.
type ClaimStatus string

const (
	ClaimPending        ClaimStatus = "PENDING"
	ClaimVerified       ClaimStatus = "VERIFIED"
	ClaimExpired        ClaimStatus = "EXPIRED"
	ClaimCancelled      ClaimStatus = "CANCELLED"
	ClaimClaimedByOther ClaimStatus = "CLAIMED_BY_OTHER"
)

// Terminal reports whether no further transition is defined out of s.
func (s ClaimStatus) Terminal() bool {
	return s != ClaimPending
}

// DisplayName returns the human-readable name of the status.
func (s ClaimStatus) DisplayName() string {
	switch s {
	case ClaimPending:
		return "Pending"
	case ClaimVerified:
		return "Verified"
	case ClaimExpired:
		return "Expired"
	case ClaimCancelled:
		return "Cancelled"
	case ClaimClaimedByOther:
		return "Claimed by Other"
	default:
		return string(s)
	}
}

// Server is a listed game server. The probing scheduler owns IsOnline,
// PlayerCount, MaxPlayers, PreferredProtocol and LastPingedAt; the claim
// engine owns the Claim*/Owner*/Verified* fields. Everything else belongs to
// the surrounding CRUD system.
type Server struct {
	ID         uuid.UUID
	Name       string
	Slug       string
	Host       string // domain or literal IP
	Port       int
	QueryPort  *int // optional override for query protocols with their own port
	WebsiteURL string
	Version    string

	IsOnline          bool
	PlayerCount       *int // nil = unknown, 0 = confirmed empty
	MaxPlayers        *int
	UptimePercentage  float64
	PreferredProtocol *QueryProtocol
	LastPingedAt      *time.Time

	OwnerID            *uuid.UUID
	VerifiedAt         *time.Time
	VerificationMethod *VerificationMethod
	ClaimToken         *string
	ClaimTokenExpiry   *time.Time

	CreatedAt time.Time
}

// Verified reports whether the server has a confirmed verified owner.
func (s *Server) Verified() bool {
	return s.OwnerID != nil && s.VerifiedAt != nil
}

// HasLiveClaimToken reports whether a claim token exists and is not yet
// expired at the given instant. A token whose expiry equals now is dead.
func (s *Server) HasLiveClaimToken(now time.Time) bool {
	return s.ClaimToken != nil && s.ClaimTokenExpiry != nil && s.ClaimTokenExpiry.After(now)
}

// User is the read-only projection of a registered user that the claim
// engine needs: identity plus the email the EMAIL strategy matches against.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	EmailVerified bool
}

// ClaimInitiation is one user's in-progress (or settled) attempt to claim a
// server. Unique per (server, user).
type ClaimInitiation struct {
	ID            uuid.UUID
	ServerID      uuid.UUID
	UserID        uuid.UUID
	Method        VerificationMethod
	Status        ClaimStatus
	InitiatedAt   time.Time
	ExpiresAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
	CancelledAt   *time.Time
	CompletedAt   *time.Time
}

// Expired reports whether the initiation is past its expiry.
// An initiation expiring exactly now is expired.
func (c *ClaimInitiation) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ClaimAttempt is the append-only audit record of one verification attempt.
type ClaimAttempt struct {
	ID            int64
	ServerID      uuid.UUID
	UserID        uuid.UUID
	Method        VerificationMethod
	Successful    bool
	FailureReason string
	SourceIP      string
	CountryCode   string
	AttemptedAt   time.Time
}

// StatusHistory is an append-only snapshot of one probe outcome.
type StatusHistory struct {
	ID             int64
	ServerID       uuid.UUID
	IsOnline       bool
	PlayerCount    *int
	MaxPlayers     *int
	ResponseTimeMs *int64 // nil for offline records
	Protocol       QueryProtocol
	ErrorMessage   string
	RecordedAt     time.Time
}
