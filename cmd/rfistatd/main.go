// rfistatd is the RFI occupancy statistics server daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/server"
	"github.com/xtxerr/rfistat/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	rebuildIndex := flag.Bool("rebuild-index", false, "rebuild the segment index from segment files, then continue")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			slog.Error("load config", "path", *cfgPath, "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	logging.Init(parseLevel(cfg.Log.Level), cfg.Log.JSON)
	log := logging.Component("main")
	log.Info("rfistatd starting", "version", Version, "data_dir", cfg.DataDir)

	svc, err := storage.New(cfg)
	if err != nil {
		log.Error("create storage service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *rebuildIndex {
		log.Info("rebuilding segment index")
		if err := svc.RebuildIndex(ctx); err != nil {
			log.Error("rebuild index", "error", err)
			os.Exit(1)
		}
	}

	if err := svc.Start(ctx); err != nil {
		log.Error("start storage service", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, svc)
	if err := srv.Start(); err != nil {
		log.Error("start http server", "error", err)
		svc.Stop()
		os.Exit(1)
	}

	log.Info("rfistatd ready", "listen", cfg.Server.Listen)

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.Warn("stop http server", "error", err)
	}
	if err := svc.Stop(); err != nil {
		log.Warn("stop storage service", "error", err)
	}

	log.Info("shutdown complete")
}

// parseLevel maps a config log level string to a slog level.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
