package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/roach88/recbind/internal/binder"
	"github.com/roach88/recbind/internal/config"
	"github.com/roach88/recbind/internal/loop"
	"github.com/roach88/recbind/internal/store"
	"github.com/roach88/recbind/internal/store/sqlite"
	"github.com/roach88/recbind/internal/telemetry"
)

// session is everything one command needs to work on a collection: the
// loaded config, the open database, and a binder over it.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	adapter  *sqlite.Adapter
	store    *store.Store
	binder   *binder.Binder
	exporter *telemetry.Exporter

	// loop is the binder's scheduler in live sessions; the caller runs it.
	// One-shot sessions schedule with loop.Detached and leave it nil.
	loop *loop.Loop
}

// openSession loads config, opens the database and defines collection.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command, collection string, live bool) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Configure logging based on config and verbose flag
	logLevel := cfg.SlogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	exporter, err := telemetry.Setup(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	if exporter != nil {
		otel.SetTracerProvider(exporter.TracerProvider())
		logger.Debug("tracing enabled", "endpoint_env", telemetry.EnvEndpoint)
	}

	logger.Debug("opening database", "path", cfg.Database)
	adapter, err := sqlite.Open(cfg.Database)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	st := store.New(adapter,
		store.WithLogger(logger),
		store.WithIDGenerator(opts.IDGenerator))

	col, ok := cfg.Collection(collection)
	if !ok {
		col = config.Collection{Name: collection}
	}

	binderOpts := []binder.Option{
		binder.WithLogger(logger),
		binder.WithSaveDelay(cfg.SaveDelay.Std()),
		binder.WithClock(opts.Clock),
	}
	var lp *loop.Loop
	if live {
		lp = loop.New(loop.WithLogger(logger))
		binderOpts = append(binderOpts, binder.WithScheduler(lp))
	}
	b, err := binder.New(st, binder.Config{
		Name:        col.Name,
		IDAttribute: col.IDAttribute,
		Schema:      col.Schema,
	}, binderOpts...)
	if err != nil {
		_ = adapter.Close()
		_ = exporter.Shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to define collection %q", collection), err)
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		adapter:  adapter,
		store:    st,
		binder:   b,
		exporter: exporter,
		loop:     lp,
	}, nil
}

// Close writes pending saves, releases the database and flushes pending
// spans.
func (s *session) Close(ctx context.Context) {
	s.binder.Close(context.WithoutCancel(ctx))
	if err := s.adapter.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
	if err := s.exporter.Shutdown(ctx); err != nil {
		s.logger.Error("error flushing traces", "error", err)
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (tests calling RunE directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
