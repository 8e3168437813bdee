package server

import (
	"sync"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
)

// Server holds the dependencies, configuration, and runtime state required
// to handle HTTP requests.
type Server struct {
	// storage provides access to the persistent database layer.
	storage *storage.Store

	// prober is the multi-protocol query orchestrator used by the on-demand
	// check endpoint.
	prober *query.Service

	// claims drives the ownership-claim lifecycle endpoints.
	claims *claims.Service

	// probeCache is a thread-safe map of recent on-demand probe results,
	// keyed by xxhash of host:port. It keeps the admin check endpoint from
	// hammering the same server repeatedly.
	probeCache sync.Map

	// authToken is the secret token required to access administrative API
	// endpoints (e.g., forcing a live probe).
	authToken string

	// rateCount / rateWindow parameterize the per-IP request limiter.
	rateCount  int
	rateWindow time.Duration

	// softProbeDur is how long an on-demand probe result stays fresh enough
	// to be served from cache.
	softProbeDur time.Duration

	// trustProxy indicates whether the server should trust headers like
	// X-Forwarded-For or CF-Connecting-IP when determining the client's
	// real IP address.
	trustProxy bool
}

// cachedProbe is one entry in the on-demand probe cache.
type cachedProbe struct {
	result query.Result
	at     time.Time
}
