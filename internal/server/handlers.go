package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/vars"
)

// serverView is the public projection of a server row.
type serverView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Slug              string     `json:"slug"`
	Host              string     `json:"host"`
	Port              int        `json:"port"`
	WebsiteURL        string     `json:"website_url,omitempty"`
	Version           string     `json:"version,omitempty"`
	IsOnline          bool       `json:"is_online"`
	PlayerCount       *int       `json:"player_count"`
	MaxPlayers        *int       `json:"max_players"`
	UptimePercentage  float64    `json:"uptime_percentage"`
	PreferredProtocol *string    `json:"preferred_protocol,omitempty"`
	LastPingedAt      *time.Time `json:"last_pinged_at,omitempty"`
	Verified          bool       `json:"verified"`
}

func viewOf(srv *models.Server) serverView {
	v := serverView{
		ID:               srv.ID.String(),
		Name:             srv.Name,
		Slug:             srv.Slug,
		Host:             srv.Host,
		Port:             srv.Port,
		WebsiteURL:       srv.WebsiteURL,
		Version:          srv.Version,
		IsOnline:         srv.IsOnline,
		PlayerCount:      srv.PlayerCount,
		MaxPlayers:       srv.MaxPlayers,
		UptimePercentage: srv.UptimePercentage,
		LastPingedAt:     srv.LastPingedAt,
		Verified:         srv.Verified(),
	}
	if srv.PreferredProtocol != nil {
		p := string(*srv.PreferredProtocol)
		v.PreferredProtocol = &p
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serviceError maps a claim-engine error onto an HTTP response.
func serviceError(w http.ResponseWriter, err error) {
	if rej, ok := claims.IsRejection(err); ok {
		writeError(w, http.StatusConflict, rej.Message)
		return
	}
	if errors.Is(err, claims.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	log.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "Internal error")
}

// pathServerID parses the {id} path segment.
func pathServerID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// requestUserID reads the authenticated user identity injected by the
// front-end gateway.
func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-User-ID header")
	}
	return uuid.Parse(raw)
}

// handleHealth reports liveness and build info.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  vars.Ver(),
	})
}

// handleListServers returns a JSON list of all listed servers.
func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	servers, err := s.storage.ListServers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch servers")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	views := make([]serverView, 0, len(servers))
	for i := range servers {
		views = append(views, viewOf(&servers[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleServerStatus returns the current status of one server plus its
// rolling uptime and average response time over the last 24 hours.
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	srv, err := s.storage.GetServer(id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch server")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if srv == nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	avg, err := s.storage.AverageResponseTimeSince(id, since)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute response time")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server":               viewOf(srv),
		"avg_response_time_ms": avg,
	})
}

// handleServerHistory returns the status history of one server.
// Query params: ?hours=24 (max 720)
func (s *Server) handleServerHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err = strconv.Atoi(raw)
		if err != nil || hours <= 0 || hours > 720 {
			writeError(w, http.StatusBadRequest, "Invalid hours parameter")
			return
		}
	}

	history, err := s.storage.HistorySince(id, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch history")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	type historyView struct {
		IsOnline       bool      `json:"is_online"`
		PlayerCount    *int      `json:"player_count"`
		MaxPlayers     *int      `json:"max_players"`
		ResponseTimeMs *int64    `json:"response_time_ms"`
		Protocol       string    `json:"protocol"`
		Error          string    `json:"error,omitempty"`
		RecordedAt     time.Time `json:"recorded_at"`
	}

	views := make([]historyView, 0, len(history))
	for _, h := range history {
		views = append(views, historyView{
			IsOnline:       h.IsOnline,
			PlayerCount:    h.PlayerCount,
			MaxPlayers:     h.MaxPlayers,
			ResponseTimeMs: h.ResponseTimeMs,
			Protocol:       string(h.Protocol),
			Error:          h.ErrorMessage,
			RecordedAt:     h.RecordedAt,
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// handleCheckNow performs a live probe of one server, bypassing the
// scheduler. Recent results are served from a short-lived cache so repeated
// checks don't hammer the target.
func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	srv, err := s.storage.GetServer(id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch server")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if srv == nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	key := xxhash.Sum64String(fmt.Sprintf("%s:%d", srv.Host, srv.Port))
	if entry, ok := s.probeCache.Load(key); ok {
		if cached, ok := entry.(cachedProbe); ok && time.Since(cached.at) < s.softProbeDur {
			writeJSON(w, http.StatusOK, probeView(cached.result, true))
			return
		}
	}

	res := s.prober.Probe(query.TargetFor(srv))
	s.probeCache.Store(key, cachedProbe{result: res, at: time.Now()})

	writeJSON(w, http.StatusOK, probeView(res, false))
}

func probeView(res query.Result, cached bool) map[string]any {
	out := map[string]any{
		"online":           res.Online,
		"protocol":         string(res.Protocol),
		"player_count":     res.PlayerCount,
		"max_players":      res.MaxPlayers,
		"response_time_ms": res.ResponseTimeMs,
		"cached":           cached,
	}
	if res.ServerName != "" {
		out["server_name"] = res.ServerName
	}
	if res.Version != "" {
		out["version"] = res.Version
	}
	if res.MOTD != "" {
		out["motd"] = res.MOTD
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	return out
}

// handleInitiateClaim starts (or restarts) the caller's claim on a server.
// Body: {"method": "MOTD"}
func (s *Server) handleInitiateClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing or invalid user identity")
		return
	}

	var body struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	init, err := s.claims.Initiate(id, userID, models.VerificationMethod(body.Method))
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server_id":      init.ServerID.String(),
		"method":         string(init.Method),
		"token":          init.Token,
		"expires_at":     init.ExpiresAt,
		"instructions":   init.Instructions,
		"other_claimers": init.OtherClaimers,
	})
}

// handleVerifyClaim runs the caller's chosen verification strategy.
func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing or invalid user identity")
		return
	}

	outcome, err := s.claims.AttemptVerification(id, userID, GetRealIP(r, s.trustProxy))
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified": outcome.Verified,
		"message":  outcome.Message,
	})
}

// handleClaimStatus reports the caller's claim on a server.
func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing or invalid user identity")
		return
	}

	state, err := s.claims.Status(id, userID)
	if err != nil {
		serviceError(w, err)
		return
	}

	out := map[string]any{
		"server_id":       state.ServerID.String(),
		"server_verified": state.ServerVerified,
	}
	if state.Initiation != nil {
		out["claim"] = map[string]any{
			"method":        string(state.Initiation.Method),
			"status":        string(state.Initiation.Status),
			"initiated_at":  state.Initiation.InitiatedAt,
			"expires_at":    state.Initiation.ExpiresAt,
			"attempt_count": state.Initiation.AttemptCount,
		}
	}
	if state.TokenExpiresAt != nil {
		out["token_expires_at"] = state.TokenExpiresAt
	}

	writeJSON(w, http.StatusOK, out)
}

// handleCancelClaim withdraws the caller's pending claim.
func (s *Server) handleCancelClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing or invalid user identity")
		return
	}

	if err := s.claims.Cancel(id, userID); err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleClaimMethods lists every verification method with its applicability
// for this server and the caller.
func (s *Server) handleClaimMethods(w http.ResponseWriter, r *http.Request) {
	id, err := pathServerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing or invalid user identity")
		return
	}

	infos, err := s.claims.AvailableMethods(id, userID)
	if err != nil {
		serviceError(w, err)
		return
	}

	type methodView struct {
		Method      string `json:"method"`
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
		Available   bool   `json:"available"`
		Reason      string `json:"reason,omitempty"`
	}

	views := make([]methodView, 0, len(infos))
	for _, info := range infos {
		views = append(views, methodView{
			Method:      string(info.Method),
			DisplayName: info.DisplayName,
			Description: info.Description,
			Available:   info.Available,
			Reason:      info.Reason,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
