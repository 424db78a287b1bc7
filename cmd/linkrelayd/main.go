// Package main implements the link relay daemon. The relay brokers device
// linking sessions without ever learning key material: it stores secret
// hashes, public shares, and sealed blobs, nothing it could decrypt.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/config"
	"github.com/emberchat/keyvault/internal/relay"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/keyvault/relay.yaml", "Path to configuration file")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadRelayConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", Version).
		Str("listen", cfg.ListenAddr).
		Int("link_ttl_seconds", cfg.LinkTTLSeconds).
		Msg("Link relay starting")

	server := relay.NewServer(relay.Config{
		TTL:           time.Duration(cfg.LinkTTLSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.SweepIntervalSeconds) * time.Second,
	})
	defer server.Stop()

	var responder *relay.NATSResponder
	if cfg.NATS.Enabled {
		responder, err = relay.NewNATSResponder(server, cfg.NATS.URL, cfg.NATS.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start NATS responder")
		}
		defer responder.Close()
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("Link relay stopped")
}
