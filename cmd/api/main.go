package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/app"
	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	application, err := app.NewApp(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("startup failed", zap.Error(err))
	}
	defer application.Close()

	go func() {
		if err := application.Server.Start(); err != nil {
			zlog.Error("server stopped", zap.Error(err))
			cancel()
		}
	}()

	zlog.Info("Ingesta is running", zap.String("port", cfg.Port))
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("shutdown incomplete", zap.Error(err))
	}
}
