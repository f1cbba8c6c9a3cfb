package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/api"
	"github.com/JakeFAU/ptt-stock-crawler/internal/config"
	"github.com/JakeFAU/ptt-stock-crawler/internal/logging"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
	"github.com/JakeFAU/ptt-stock-crawler/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single crawl session and exit")
	author := flag.String("author", "", "With -once, crawl only this author")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return
	}
	defer svc.Close()

	if *once {
		runOnce(ctx, svc, *author, logger)
		return
	}

	sched, err := scheduler.New(svc.orch, scheduler.Config{Interval: cfg.CrawlInterval(), RunOnStartup: true}, logger)
	if err != nil {
		logger.Error("scheduler init failed", zap.Error(err))
		return
	}
	go func() {
		logger.Info("scheduler started", zap.Duration("interval", cfg.CrawlInterval()))
		sched.Run(ctx)
	}()

	opts := api.Options{Sessions: svc.sessions, Logger: logger}
	if svc.ready != nil {
		opts.Ready = svc.ready
	}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(svc.orch, opts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func runOnce(ctx context.Context, svc *service, author string, logger *zap.Logger) {
	var err error
	if author != "" {
		_, err = svc.orch.CrawlSingleAuthor(ctx, author)
	} else {
		_, err = svc.orch.RunSession(ctx)
	}
	if err != nil {
		logger.Error("crawl session failed", zap.Error(err))
	}
}
