package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/config"
	"github.com/abhisek/dojo/internal/enrollment"
	"github.com/abhisek/dojo/internal/logging"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/store/memstore"
	"github.com/abhisek/dojo/internal/tools"
)

// backend is the opened configuration, logger and store shared by every
// command.
type backend struct {
	cfg   config.Config
	log   *zap.Logger
	repos store.Repos
	ping  func(context.Context) error
	close func() error
}

// openBackend loads config and opens the configured store. Local commands
// log only with --verbose; serve always logs.
func openBackend(cmd *cobra.Command, alwaysLog bool) (*backend, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log := zap.NewNop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose || alwaysLog {
		mode := cfg.Log.Mode
		if verbose && !alwaysLog {
			mode = "development"
		}
		if log, err = logging.New(mode); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	b := &backend{cfg: cfg, log: log}
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		b.repos = memstore.New().Repos()
		b.ping = func(context.Context) error { return nil }
		b.close = func() error { return nil }
	default:
		dbPath, err := resolveDBPath(cmd, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		log.Info("store opened", zap.String("path", dbPath))
		b.repos = st.Repos()
		b.ping = st.Ping
		b.close = st.Close
	}
	return b, nil
}

// Close releases the store and flushes the logger.
func (b *backend) Close() error {
	_ = b.log.Sync()
	return b.close()
}

// services are the engine components built over a backend.
type services struct {
	enrollments *enrollment.Service
	assessment  *assessment.Service
	mastery     *mastery.Service
	gateway     *tools.Gateway
}

func (b *backend) services(emitter activity.Emitter, m *metrics.Metrics, locker session.Locker) *services {
	policy := store.DefaultRetryPolicy()
	policy.MaxAttempts = b.cfg.Mastery.RetryAttempts

	ms := mastery.NewService(b.repos.Enrollments,
		mastery.WithLogger(b.log),
		mastery.WithMetrics(m),
		mastery.WithRetryPolicy(policy))
	as := assessment.NewService(b.repos, emitter, m, b.log)
	return &services{
		enrollments: enrollment.NewService(b.repos, emitter, b.log),
		assessment:  as,
		mastery:     ms,
		gateway: tools.NewGateway(tools.Config{
			Repos:      b.repos,
			Mastery:    ms,
			Assessment: as,
			Locker:     locker,
			Emitter:    emitter,
			Metrics:    m,
			Logger:     b.log,
		}),
	}
}

// localDispatcher persists activities from one-shot commands. Callers
// must Close it before exit so queued events reach the store.
func (b *backend) localDispatcher() *activity.Dispatcher {
	return activity.NewDispatcher(activity.Config{
		Buffer: b.cfg.Activity.Buffer,
		Sinks:  []activity.Sink{activity.NewStoreSink(b.repos.Activities)},
		Streak: activity.NewStreakTracker(b.repos.Activities),
		Logger: b.log,
	})
}
