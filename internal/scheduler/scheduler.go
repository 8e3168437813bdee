// Package scheduler runs the periodic jobs: the status-probe batch, the
// uptime recompute, history retention, and the claim sweeps.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
)

// Intervals groups the job cadences; zero values fall back to the defaults.
type Intervals struct {
	StatusBatch   time.Duration
	Uptime        time.Duration
	Retention     time.Duration
	ClaimExpiry   time.Duration
	ClaimCleanup  time.Duration
	BatchSize     int
	Workers       int
	UptimeWindow  time.Duration
	HistoryMaxAge time.Duration
}

// DefaultIntervals returns the production cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		StatusBatch:   time.Minute,
		Uptime:        time.Hour,
		Retention:     24 * time.Hour,
		ClaimExpiry:   5 * time.Minute,
		ClaimCleanup:  24 * time.Hour,
		BatchSize:     50,
		Workers:       10,
		UptimeWindow:  24 * time.Hour,
		HistoryMaxAge: 30 * 24 * time.Hour,
	}
}

func (iv *Intervals) applyDefaults() {
	def := DefaultIntervals()
	if iv.StatusBatch <= 0 {
		iv.StatusBatch = def.StatusBatch
	}
	if iv.Uptime <= 0 {
		iv.Uptime = def.Uptime
	}
	if iv.Retention <= 0 {
		iv.Retention = def.Retention
	}
	if iv.ClaimExpiry <= 0 {
		iv.ClaimExpiry = def.ClaimExpiry
	}
	if iv.ClaimCleanup <= 0 {
		iv.ClaimCleanup = def.ClaimCleanup
	}
	if iv.BatchSize <= 0 {
		iv.BatchSize = def.BatchSize
	}
	if iv.Workers <= 0 {
		iv.Workers = def.Workers
	}
	if iv.UptimeWindow <= 0 {
		iv.UptimeWindow = def.UptimeWindow
	}
	if iv.HistoryMaxAge <= 0 {
		iv.HistoryMaxAge = def.HistoryMaxAge
	}
}

// Scheduler owns the background tickers. Start launches them; Stop (or
// cancelling the context) winds them down and waits for in-flight work.
type Scheduler struct {
	store     *storage.Store
	prober    *query.Service
	claims    *claims.Service
	intervals Intervals
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler. A nil clock defaults to time.Now.
func New(store *storage.Store, prober *query.Service, claimSvc *claims.Service, intervals Intervals, clock func() time.Time) *Scheduler {
	intervals.applyDefaults()
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		store:     store,
		prober:    prober,
		claims:    claimSvc,
		intervals: intervals,
		now:       clock,
	}
}

// Start launches every job loop. Each runs once immediately except the status
// batch, which waits for its first tick so startup stays fast.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, "status_batch", s.intervals.StatusBatch, false, s.RunStatusBatch)
	s.loop(ctx, "uptime", s.intervals.Uptime, true, s.RunUptimeRecompute)
	s.loop(ctx, "history_retention", s.intervals.Retention, true, s.RunHistoryRetention)
	s.loop(ctx, "claim_expiry", s.intervals.ClaimExpiry, true, s.RunClaimExpiry)
	s.loop(ctx, "claim_cleanup", s.intervals.ClaimCleanup, true, s.RunClaimCleanup)

	log.Info().
		Dur("status_interval", s.intervals.StatusBatch).
		Int("batch_size", s.intervals.BatchSize).
		Int("workers", s.intervals.Workers).
		Msg("Scheduler started")
}

// Stop cancels the loops and waits for them to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, immediate bool, job func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		run := func() {
			if err := job(); err != nil {
				log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
			}
		}

		if immediate {
			run()
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// RunStatusBatch probes the most overdue servers with a bounded worker pool,
// waits for every worker, then persists all updates and history rows in one
// transaction.
func (s *Scheduler) RunStatusBatch() error {
	servers, err := s.store.ServersNeedingPing(s.intervals.BatchSize)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return nil
	}

	type outcome struct {
		server models.Server
		result query.Result
	}

	jobs := make(chan models.Server, len(servers))
	results := make(chan outcome, len(servers))
	var wg sync.WaitGroup

	for i := 0; i < s.intervals.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for srv := range jobs {
				results <- outcome{server: srv, result: s.probeOne(srv)}
			}
		}()
	}

	for _, srv := range servers {
		jobs <- srv
	}
	close(jobs)

	wg.Wait()
	close(results)

	now := s.now()
	updates := make([]storage.StatusUpdate, 0, len(servers))
	history := make([]models.StatusHistory, 0, len(servers))
	online := 0

	for o := range results {
		res := o.result
		updates = append(updates, storage.StatusUpdate{
			ServerID:    o.server.ID,
			Online:      res.Online,
			PlayerCount: res.PlayerCount,
			MaxPlayers:  res.MaxPlayers,
			Protocol:    res.Protocol,
			PingedAt:    now,
		})

		h := models.StatusHistory{
			ServerID:    o.server.ID,
			IsOnline:    res.Online,
			PlayerCount: res.PlayerCount,
			MaxPlayers:  res.MaxPlayers,
			Protocol:    res.Protocol,
			RecordedAt:  now,
		}
		if res.Online {
			ms := res.ResponseTimeMs
			h.ResponseTimeMs = &ms
			online++
		} else {
			h.ErrorMessage = res.Error
		}
		history = append(history, h)
	}

	if err := s.store.ApplyStatusBatch(updates, history); err != nil {
		return err
	}

	log.Info().
		Int("probed", len(servers)).
		Int("online", online).
		Msg("Status batch completed")
	return nil
}

// probeOne shields the pool from a panicking driver: a panic becomes a FAILED
// result for that one server instead of taking the batch down.
func (s *Scheduler) probeOne(srv models.Server) (res query.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("server", srv.ID.String()).
				Msg("Probe panicked")
			res = query.Result{Protocol: models.ProtocolFailed, Error: "Internal error during probe"}
		}
	}()
	return s.prober.Probe(query.TargetFor(&srv))
}

// RunUptimeRecompute recalculates each server's rolling uptime percentage
// over the window, rounded to one decimal. No history means 0, not 100.
func (s *Scheduler) RunUptimeRecompute() error {
	servers, err := s.store.ListServers()
	if err != nil {
		return err
	}

	since := s.now().Add(-s.intervals.UptimeWindow)
	for _, srv := range servers {
		counts, err := s.store.CountHistorySince(srv.ID, since)
		if err != nil {
			return err
		}

		pct := 0.0
		if counts.Total > 0 {
			pct = math.Round(float64(counts.Online)/float64(counts.Total)*1000) / 10
		}

		if err := s.store.SetUptimePercentage(srv.ID, pct); err != nil {
			return err
		}
	}

	log.Debug().Int("servers", len(servers)).Msg("Uptime recompute completed")
	return nil
}

// RunHistoryRetention drops status history older than the retention window.
func (s *Scheduler) RunHistoryRetention() error {
	cutoff := s.now().Add(-s.intervals.HistoryMaxAge)
	n, err := s.store.DeleteHistoryBefore(cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("History retention completed")
	}
	return nil
}

// RunClaimExpiry sweeps overdue pending claims to EXPIRED.
func (s *Scheduler) RunClaimExpiry() error {
	_, err := s.claims.ExpirePending()
	return err
}

// RunClaimCleanup purges settled claims beyond the retention window.
func (s *Scheduler) RunClaimCleanup() error {
	_, err := s.claims.Cleanup()
	return err
}
