package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/ai"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/config"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/logger"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/analyze"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/history"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/image"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/localapi"
)

// Локальный HTTP-мост между десктопным UI и моделью: POST /analyze (JSON и SSE), /health, /ws, /metrics.
func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sugar, err := logger.New(cfg.DebugMode)
	if err != nil {
		panic(err)
	}
	//сброс буфера логгера
	defer func() {
		_ = sugar.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dumper *image.Dumper
	if cfg.Screenshots.DumpEnabled {
		dumper = image.NewDumper(cfg.Screenshots.Dir)
	}
	provider := ai.NewProvider(cfg, nil, sugar)
	svc := analyze.NewService(provider, analyze.Options{
		Limits:   history.Limits{MaxMessages: cfg.MaxHistoryMessages, MaxChars: cfg.MaxHistoryChars},
		Language: cfg.ReplyLanguage,
		Dumper:   dumper,
	}, sugar)
	handler := localapi.NewHandler(svc, cfg.MaxBodyBytes, localapi.NewMetrics(), sugar)
	srv := localapi.NewServer(cfg.Addr(), localapi.NewRouter(handler, cfg.MetricsEnabled), sugar)

	if err := srv.Start(ctx); err != nil {
		if localapi.IsAddrInUse(err) {
			// оболочка могла запустить нас повторно: рабочий экземпляр уже слушает порт
			sugar.Infow("Local API already running", "addr", cfg.Addr())
			return
		}
		sugar.Errorw("Failed to start local API", "addr", cfg.Addr(), "error", err)
		os.Exit(1)
	}
	sugar.Infow("Starting local API",
		"addr", srv.Addr(),
		"mock", cfg.Mock(),
		"model", cfg.OpenAI.Model,
		"maxBodyBytes", cfg.MaxBodyBytes,
		"metrics", cfg.MetricsEnabled,
		"DebugMode", cfg.DebugMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Screenshots.DumpEnabled {
		cleaner := image.NewCleaner(sugar)
		ttl := time.Duration(cfg.Screenshots.TTLSeconds) * time.Second
		g.Go(func() error {
			return cleaner.Run(gctx, cfg.Screenshots.Dir, ttl, time.Minute, cfg.DebugMode)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return srv.Stop(context.Background())
		case <-srv.Done():
			return srv.Err()
		}
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("Local API stopped with error", "error", err)
		os.Exit(1)
	}
}
