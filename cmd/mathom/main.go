package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mathomhouse/mathom/internal/backup"
	"github.com/mathomhouse/mathom/internal/database"
	"github.com/mathomhouse/mathom/internal/logging"
	"github.com/mathomhouse/mathom/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("MATHOM_LOG_LEVEL"))

	port := os.Getenv("MATHOM_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("MATHOM_DB_PATH")
	if dbPath == "" {
		dbPath = "mathom.db"
	}

	jwtSecret := os.Getenv("MATHOM_JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("MATHOM_JWT_SECRET is required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("MATHOM_S3_ENDPOINT"),
			Bucket:    os.Getenv("MATHOM_S3_BUCKET"),
			Region:    os.Getenv("MATHOM_S3_REGION"),
			AccessKey: os.Getenv("MATHOM_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("MATHOM_S3_SECRET_KEY"),
		},
		DBPath:     dbPath,
		Passphrase: os.Getenv("MATHOM_BACKUP_PASSPHRASE"),
	}
	if hours, err := strconv.Atoi(os.Getenv("MATHOM_BACKUP_INTERVAL_HOURS")); err == nil && hours > 0 {
		backupCfg.Interval = time.Duration(hours) * time.Hour
	}
	if days, err := strconv.Atoi(os.Getenv("MATHOM_BACKUP_RETENTION_DAYS")); err == nil && days > 0 {
		backupCfg.RetentionDays = days
	}

	srv := server.New(db, []byte(jwtSecret), backupCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if srv.BackupManager().Enabled() {
		srv.BackupManager().Start(ctx)
		defer srv.BackupManager().Stop()
	}

	// Periodic cleanup of expired sessions and stale rate limit entries
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("session cleanup", "error", err)
				} else if n > 0 {
					logger.Info("expired sessions removed", "count", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("mathom listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
