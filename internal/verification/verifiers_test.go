package verification

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
)

const testToken = "ABCD1234EFGH5678"

func testServer() *models.Server {
	return &models.Server{
		ID:   uuid.New(),
		Name: "Test Server",
		Host: "mc.example.com",
		Port: 5520,
	}
}

// fakeProber scripts the MOTD strategy's probe result.
type fakeProber struct {
	result query.Result
}

func (p *fakeProber) Probe(_ query.Target) query.Result { return p.result }

func TestMOTDVerify(t *testing.T) {
	srv := testServer()

	t.Run("token in motd", func(t *testing.T) {
		v := NewMOTDVerifier(&fakeProber{result: query.Result{
			Online: true, MOTD: "Welcome! " + TokenMarker + testToken,
		}})
		res := v.Verify(srv, testToken)
		assert.True(t, res.Success)
	})

	t.Run("token in server name", func(t *testing.T) {
		v := NewMOTDVerifier(&fakeProber{result: query.Result{
			Online: true, ServerName: TokenMarker + testToken,
		}})
		res := v.Verify(srv, testToken)
		assert.True(t, res.Success)
	})

	t.Run("token absent", func(t *testing.T) {
		v := NewMOTDVerifier(&fakeProber{result: query.Result{Online: true, MOTD: "plain motd"}})
		res := v.Verify(srv, testToken)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "not found")
	})

	t.Run("server offline", func(t *testing.T) {
		v := NewMOTDVerifier(&fakeProber{result: query.Result{Error: "Timeout"}})
		res := v.Verify(srv, testToken)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "Could not connect")
	})
}

// stubResolver answers TXT lookups from a fixed table.
type stubResolver struct {
	records map[string][]string
}

func (r *stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	recs, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("no such host: %s", name)
	}
	return recs, nil
}

func TestDNSTxtVerify(t *testing.T) {
	srv := testServer()

	t.Run("subdomain record", func(t *testing.T) {
		v := NewDNSTxtVerifier(&stubResolver{records: map[string][]string{
			"_hol-verify.mc.example.com": {testToken},
		}}, time.Second)
		res := v.Verify(srv, testToken)
		assert.True(t, res.Success)
	})

	t.Run("root domain record", func(t *testing.T) {
		v := NewDNSTxtVerifier(&stubResolver{records: map[string][]string{
			"mc.example.com": {"hol-verify=" + testToken},
		}}, time.Second)
		res := v.Verify(srv, testToken)
		assert.True(t, res.Success)
	})

	t.Run("quoted record", func(t *testing.T) {
		v := NewDNSTxtVerifier(&stubResolver{records: map[string][]string{
			"_hol-verify.mc.example.com": {`"` + testToken + `"`},
		}}, time.Second)
		res := v.Verify(srv, testToken)
		assert.True(t, res.Success)
	})

	t.Run("no record", func(t *testing.T) {
		v := NewDNSTxtVerifier(&stubResolver{records: map[string][]string{}}, time.Second)
		res := v.Verify(srv, testToken)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "not found")
	})

	t.Run("wrong token", func(t *testing.T) {
		v := NewDNSTxtVerifier(&stubResolver{records: map[string][]string{
			"_hol-verify.mc.example.com": {"WRONGTOKEN000000"},
		}}, time.Second)
		res := v.Verify(srv, testToken)
		assert.False(t, res.Success)
	})

	t.Run("unavailable for ip literal", func(t *testing.T) {
		v := NewDNSTxtVerifier(nil, 0)
		ipSrv := testServer()
		ipSrv.Host = "203.0.113.7"
		assert.False(t, v.Available(ipSrv))
		assert.NotEmpty(t, v.UnavailableReason(ipSrv, nil))
	})
}

func TestFileUploadVerify(t *testing.T) {
	run := func(t *testing.T, handler http.HandlerFunc) Result {
		t.Helper()
		ts := httptest.NewServer(handler)
		t.Cleanup(ts.Close)

		srv := testServer()
		srv.WebsiteURL = ts.URL + "/"

		v := NewFileUploadVerifier(ts.Client(), time.Second)
		return v.Verify(srv, testToken)
	}

	t.Run("exact content", func(t *testing.T) {
		res := run(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/"+verificationFileName, r.URL.Path)
			_, _ = w.Write([]byte(testToken))
		})
		assert.True(t, res.Success)
	})

	t.Run("surrounding whitespace tolerated", func(t *testing.T) {
		res := run(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("\n " + testToken + " \n"))
		})
		assert.True(t, res.Success)
	})

	t.Run("file missing", func(t *testing.T) {
		res := run(t, func(w http.ResponseWriter, _ *http.Request) {
			http.NotFound(w, nil)
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "not found")
	})

	t.Run("server error", func(t *testing.T) {
		res := run(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "HTTP status: 500")
	})

	t.Run("wrong content", func(t *testing.T) {
		res := run(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("an entire web page mentioning " + testToken + " somewhere"))
		})
		assert.False(t, res.Success)
	})

	t.Run("unavailable without website", func(t *testing.T) {
		v := NewFileUploadVerifier(nil, 0)
		srv := testServer()
		assert.False(t, v.Available(srv))
	})
}

func TestEmailVerify(t *testing.T) {
	v := NewEmailVerifier()
	srv := testServer() // mc.example.com

	matching := &models.User{ID: uuid.New(), Email: "admin@example.com", EmailVerified: true}
	mismatched := &models.User{ID: uuid.New(), Email: "admin@other.org", EmailVerified: true}
	unverified := &models.User{ID: uuid.New(), Email: "admin@example.com"}

	t.Run("matching verified email succeeds instantly", func(t *testing.T) {
		require.True(t, v.AvailableForUser(srv, matching))
		res := v.VerifyWithUser(srv, testToken, matching)
		assert.True(t, res.Success)
	})

	t.Run("domain mismatch", func(t *testing.T) {
		assert.False(t, v.AvailableForUser(srv, mismatched))
		reason := v.UnavailableReason(srv, mismatched)
		assert.Contains(t, reason, "other.org")
		assert.Contains(t, reason, "example.com")

		res := v.VerifyWithUser(srv, testToken, mismatched)
		assert.False(t, res.Success)
	})

	t.Run("unverified email", func(t *testing.T) {
		res := v.VerifyWithUser(srv, testToken, unverified)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "not been verified")
	})

	t.Run("two-part tld domains match", func(t *testing.T) {
		ukSrv := testServer()
		ukSrv.Host = "mc.example.co.uk"
		ukUser := &models.User{ID: uuid.New(), Email: "owner@example.co.uk", EmailVerified: true}
		res := v.VerifyWithUser(ukSrv, testToken, ukUser)
		assert.True(t, res.Success)
	})

	t.Run("without user context", func(t *testing.T) {
		res := v.Verify(srv, testToken)
		assert.False(t, res.Success)
	})

	t.Run("ip literal host", func(t *testing.T) {
		ipSrv := testServer()
		ipSrv.Host = "203.0.113.7"
		assert.False(t, v.Available(ipSrv))
	})
}

func TestRegistry(t *testing.T) {
	motd := NewMOTDVerifier(&fakeProber{})
	email := NewEmailVerifier()
	reg := NewRegistry(motd, email)

	assert.Equal(t, motd, reg.Get(models.MethodMOTD))
	assert.Equal(t, email, reg.Get(models.MethodEmail))
	assert.Nil(t, reg.Get(models.MethodDNSTxt))
	assert.Len(t, reg.All(), 2)
}
