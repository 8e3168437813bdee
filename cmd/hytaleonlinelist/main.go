// main is the entry point of the HytaleOnlineList status service.
// It initializes the configuration, logger, database, GeoIP provider, probe
// engine and claim engine, then starts the HTTP server and the scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/config"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/geoip"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/logger"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/scheduler"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/server"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/verification"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting hytaleonlinelist service...")

	// GeoIP for claim-attempt country enrichment
	var geoProvider *geoip.Provider
	if !cfg.GeoIP.Disabled {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		var err error
		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Probe engine and claim engine
	prober := query.NewService(cfg.Query.Timeout)

	registry := verification.NewRegistry(
		verification.NewMOTDVerifier(prober),
		verification.NewDNSTxtVerifier(nil, 0),
		verification.NewFileUploadVerifier(nil, 0),
		verification.NewEmailVerifier(),
	)

	var geo claims.CountryResolver
	if geoProvider != nil {
		geo = geoProvider
	}
	claimSvc := claims.NewService(store, registry, geo, nil)

	// Background jobs
	if !cfg.Scheduler.Disabled {
		intervals := scheduler.DefaultIntervals()
		intervals.StatusBatch = cfg.Scheduler.StatusInterval
		intervals.BatchSize = cfg.Scheduler.BatchSize
		intervals.Workers = cfg.Scheduler.Workers

		sched := scheduler.New(store, prober, claimSvc, intervals, nil)
		sched.Start(context.Background())
		defer sched.Stop()
	}

	// HTTP server
	srvHandler := server.New(store, prober, claimSvc, cfg)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srvHandler.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
