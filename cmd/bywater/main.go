package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/bywater/internal/backup"
	"github.com/dukerupert/bywater/internal/config"
	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/logging"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/remote"
	"github.com/dukerupert/bywater/internal/server"
	"github.com/dukerupert/bywater/internal/store"
	replsync "github.com/dukerupert/bywater/internal/sync"
	ws "github.com/dukerupert/bywater/internal/websocket"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := store.NewRegistry(db)
	syncCfg := replsync.Config{ProbeInterval: cfg.ProbeInterval}

	// Backend client and live feed, absent in local-only mode. The nil
	// branches matter: handing a typed nil to the manager would defeat
	// its local-only check.
	var manager *replsync.Manager
	if cfg.LocalOnly() {
		manager = replsync.NewManager(syncCfg, reg, nil, nil, logger)
	} else {
		remoteCfg := remote.Config{BaseURL: cfg.RemoteURL, APIKey: cfg.RemoteKey}
		svc, err := remote.New(remoteCfg, logger)
		if err != nil {
			logger.Error("configure backend client", "error", err)
			os.Exit(1)
		}
		tables := make([]string, 0, len(reg.Synced()))
		for _, col := range reg.Synced() {
			tables = append(tables, col.Name())
		}
		feed := remote.NewFeed(remoteCfg, tables, logger)
		manager = replsync.NewManager(syncCfg, reg, svc, feed, logger)
	}

	srv := server.New(reg, manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		logger.Error("start sync", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.BackupBucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Passphrase: cfg.BackupPassphrase,
		Interval:   cfg.BackupInterval,
	}, db, func(s backup.Status) {
		srv.Hub().Broadcast(ws.Message{Type: "backup_status", Action: string(s.State)})
	}, logger)
	backupMgr.Start(ctx)
	defer backupMgr.Stop()

	go purgeLoop(ctx, reg, cfg.PurgeAfter, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Bywater running at http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// purgeLoop hard-deletes tombstones older than the retention window, once
// a day. By then every device has pulled past them.
func purgeLoop(ctx context.Context, reg *store.Registry, keep time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := model.NowMillis() - keep.Milliseconds()
			for _, col := range reg.Synced() {
				n, err := col.PurgeTombstones(ctx, cutoff)
				if err != nil {
					logger.Error("purge tombstones", "collection", col.Name(), "error", err)
					continue
				}
				if n > 0 {
					logger.Info("purged tombstones", "collection", col.Name(), "count", n)
				}
			}
		}
	}
}
