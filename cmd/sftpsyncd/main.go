package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oneclicksftp/sftpsyncd/internal/config"
	"github.com/oneclicksftp/sftpsyncd/internal/controlapi"
	"github.com/oneclicksftp/sftpsyncd/internal/logging"
	"github.com/oneclicksftp/sftpsyncd/internal/remotefs"
	"github.com/oneclicksftp/sftpsyncd/internal/store"
	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
	"github.com/oneclicksftp/sftpsyncd/internal/tray"
	"github.com/oneclicksftp/sftpsyncd/internal/updater"
	"github.com/oneclicksftp/sftpsyncd/internal/watcher"
)

const version = "0.1.0"

const shutdownTimeout = 10 * time.Second

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:     "sftpsyncd",
	Short:   "Bidirectional SFTP sync daemon",
	Version: version,
	RunE:    runDaemon,
}

func main() {
	config.BindFlags(rootCmd, v)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dataDir := v.GetString("data_dir")
	if dataDir == "" {
		dataDir = config.Default().DataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	cfg, err := config.Load(v, dataDir)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "sftpsyncd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return errors.New("another sftpsyncd instance is already running against this data directory")
	}
	defer lock.Unlock()

	logger := logging.New(os.Stdout, parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	instanceID, err := machineid.ProtectedID("sftpsyncd")
	if err != nil {
		logger.Warn("could not derive machine id", "error", err)
		instanceID = "unknown"
	}
	logger.Info("starting sftpsyncd", "version", version, "instance_id", instanceID, "data_dir", cfg.DataDir)

	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	remoteFS := remotefs.New(logger)
	newWatcher := func() syncengine.Watcher { return watcher.New(logger) }
	manager := syncengine.NewSyncManager(db, remoteFS, newWatcher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		logger.Error("start connections", "error", err)
	}

	api := controlapi.New(manager, db, logger)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: api.Handler()}
	go func() {
		logger.Info("control api listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control api stopped", "error", err)
		}
	}()

	upd := updater.New(version)
	if cfg.StartTray {
		t := tray.New(manager, upd, cfg.UpdateFeedURL, cfg.ListenAddr, logger, func() { stop() })
		go t.Run()
		defer t.Quit()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	manager.StopAll()
	return nil
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
