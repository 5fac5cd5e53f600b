// Package main provides the stdio MCP server for vectorcache.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/mcp"
	"github.com/thebtf/vectorcache/internal/resources"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	catalog, err := services.Load(cfg.ServiceCatalogPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load service catalog, using built-in services")
		catalog = services.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down MCP server")
		cancel()
	}()

	conn := connection.New(*cfg)
	store := storage.NewManager(conn, catalog)
	conn.SetCleanup(store.CleanupFunc())
	conn.Start(ctx)

	searchMgr := search.NewManager(conn, catalog)
	res := resources.NewHandler(conn, searchMgr)
	res.AddStats("storage", store.Metrics())
	res.AddStats("search", searchMgr.Metrics())

	startWatcher()

	server := mcp.NewServer(searchMgr, store, res, Version)
	log.Info().Str("version", Version).Msg("Starting MCP server")

	runErr := server.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := conn.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Connection shutdown error")
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("MCP server error")
	}
}

// startWatcher exits the process when the settings file changes so the
// client restarts it with the new configuration.
func startWatcher() {
	path := config.SettingsPath()
	_, err := config.Watch(path, func() {
		log.Warn().Str("path", path).Msg("Config file changed, exiting for restart...")
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	log.Info().Str("path", path).Msg("Config file watcher started")
}
