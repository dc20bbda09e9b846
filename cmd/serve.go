package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/sensei"
	"github.com/abhisek/dojo/internal/server"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackend(cmd, true)
		if err != nil {
			return err
		}
		defer b.Close()
		return serve(ctx, b)
	},
}

func serve(ctx context.Context, b *backend) error {
	cfg, log := b.cfg, b.log
	build := currentBuild()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName, build.Version, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	m := metrics.NewMetrics()

	var rdb *goredis.Client
	if cfg.NeedsRedis() {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	sinks := []activity.Sink{activity.NewStoreSink(b.repos.Activities)}
	if cfg.Activity.Publish {
		sinks = append(sinks, activity.NewRedisSink(rdb, cfg.Activity.Channel))
	}
	dispatcher := activity.NewDispatcher(activity.Config{
		Buffer:  cfg.Activity.Buffer,
		Sinks:   sinks,
		Streak:  activity.NewStreakTracker(b.repos.Activities),
		Logger:  log,
		Metrics: m,
	})
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dispatcher.Close(dctx); err != nil {
			log.Warn("activity dispatcher did not drain", zap.Error(err))
		}
	}()

	var locker session.Locker = session.NewMemoryLocker()
	if cfg.Lock.Backend == "redis" {
		locker = session.NewRedisLocker(rdb, cfg.Lock.Prefix, cfg.Lock.TTL, log)
	}

	svc := b.services(dispatcher, m, locker)

	var tutor *sensei.Service
	provider, err := llm.NewProvider(ctx, llm.ConfigFromEnv(), llm.Deps{
		Events:  b.repos.Events,
		Metrics: m,
		Logger:  log,
	})
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		log.Info("no LLM provider configured; sensei messages are unavailable")
	case err != nil:
		log.Warn("LLM provider unusable; sensei messages are unavailable", zap.Error(err))
	default:
		scfg := sensei.DefaultConfig()
		scfg.MaxRounds = cfg.Sensei.MaxRounds
		tutor = sensei.NewService(provider, svc.gateway, b.repos, scfg, log)
	}

	api := server.New(server.Deps{
		Repos:       b.repos,
		Enrollments: svc.enrollments,
		Assessment:  svc.assessment,
		Gateway:     svc.gateway,
		Sensei:      tutor,
		Metrics:     m,
		Logger:      log,
		Ping:        b.ping,
		UserHeader:  cfg.Server.UserHeader,
		Version:     build.String(),
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.Stringer("version", build))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}
