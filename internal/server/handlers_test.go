package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/config"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/verification"
)

// onlineDriver reports every host online with fixed counts.
type onlineDriver struct{}

func (onlineDriver) Protocol() models.QueryProtocol          { return models.ProtocolHyQuery }
func (onlineDriver) DefaultPort() int                        { return 5520 }
func (onlineDriver) IsApplicable(host string, port int) bool { return true }
func (onlineDriver) Probe(host string, port int, _ time.Duration) query.Result {
	players, maxPlayers := 3, 20
	return query.Result{
		Online: true, Protocol: models.ProtocolHyQuery,
		PlayerCount: &players, MaxPlayers: &maxPlayers,
		ServerName: "Probed", MOTD: "hi", ResponseTimeMs: 9,
	}
}

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	server  *models.Server
	user    *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	prober := query.NewServiceWithDrivers(time.Second, onlineDriver{})
	registry := verification.NewRegistry(
		verification.NewMOTDVerifier(prober),
		verification.NewEmailVerifier(),
	)
	claimSvc := claims.NewService(store, registry, nil, nil)

	cfg := &config.Config{}
	cfg.Server.AuthToken = "secret"
	cfg.RateLimit.Count = 100
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.SoftProbe = 30 * time.Second

	srv := &models.Server{
		ID:        uuid.New(),
		Name:      "API Server",
		Slug:      "api-server",
		Host:      "mc.example.com",
		Port:      5520,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertServer(srv))

	user := &models.User{
		ID:            uuid.New(),
		Username:      "owner",
		Email:         "admin@example.com",
		EmailVerified: true,
	}
	require.NoError(t, store.InsertUser(user))

	return &testEnv{
		handler: New(store, prober, claimSvc, cfg).Run(),
		store:   store,
		server:  srv,
		user:    user,
	}
}

func (e *testEnv) request(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListServers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/servers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, env.server.ID.String(), views[0]["id"])
	assert.Nil(t, views[0]["player_count"], "unknown counts serialize as null")
}

func TestServerStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/servers/"+uuid.NewString()+"/status", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/servers/not-a-uuid/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckNowRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/servers/" + env.server.ID.String() + "/check"

	rec := env.request(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, path, "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["online"])
	assert.Equal(t, false, body["cached"])

	// Second check inside the soft window is served from cache.
	rec = env.request(t, http.MethodPost, path, "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["cached"])
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/servers/" + env.server.ID.String() + "/claim"
	auth := map[string]string{"X-User-ID": env.user.ID.String()}

	// Identity is required.
	rec := env.request(t, http.MethodPost, base, `{"method":"MOTD"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Methods listing.
	rec = env.request(t, http.MethodGet, base+"/methods", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var methods []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &methods))
	require.Len(t, methods, 2)

	// Initiate.
	rec = env.request(t, http.MethodPost, base, `{"method":"MOTD"}`, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var initiated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initiated))
	token, _ := initiated["token"].(string)
	assert.Len(t, token, 16)
	assert.NotEmpty(t, initiated["instructions"])

	// Status shows the pending claim.
	rec = env.request(t, http.MethodGet, base, "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	claim, ok := status["claim"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PENDING", claim["status"])

	// Verification fails while the token is not in the MOTD.
	rec = env.request(t, http.MethodPost, base+"/verify", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, false, outcome["verified"])

	// Cancel.
	rec = env.request(t, http.MethodDelete, base, "", auth)
	require.Equal(t, http.StatusOK, rec.Code)

	// Verifying a cancelled claim is a conflict.
	rec = env.request(t, http.MethodPost, base+"/verify", "", auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownMethodRejected(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/servers/" + env.server.ID.String() + "/claim"
	auth := map[string]string{"X-User-ID": env.user.ID.String()}

	rec := env.request(t, http.MethodPost, base, `{"method":"CARRIER_PIGEON"}`, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
