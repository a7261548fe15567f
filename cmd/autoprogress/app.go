package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/autoprogress/internal/conditions"
	"github.com/rendis/autoprogress/internal/engine"
	"github.com/rendis/autoprogress/internal/expressions"
	"github.com/rendis/autoprogress/internal/logging"
	"github.com/rendis/autoprogress/internal/metrics"
	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/internal/store"
	"github.com/rendis/autoprogress/internal/validation"
	"github.com/rendis/autoprogress/pkg/schema"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.LibSQLStore
	evaluator  *expressions.Evaluator
	validator  *validation.WorkflowValidator
	checker    *conditions.Checker
	thresholds *conditions.CachedThresholds
	fsm        *engine.InstanceFSM
	progressor *engine.Progressor
	starter    *engine.Starter
	redis      *redis.Client
	exporter   *metrics.Exporter
}

func newLogger(level string) *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dsn turns a plain filesystem path into a libSQL file URI.
func dsn(path string) string {
	for _, scheme := range []string{"file:", "libsql:", "http:", "https:"} {
		if strings.HasPrefix(path, scheme) {
			return path
		}
	}
	return "file:" + path
}

func newEvaluator() (*expressions.Evaluator, error) {
	return expressions.NewDefaultEvaluator()
}

// newApp opens the store, runs migrations and wires the progression stack.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	ev, err := newEvaluator()
	if err != nil {
		return nil, fmt.Errorf("init evaluator: %w", err)
	}
	validator, err := validation.NewWorkflowValidator(ev, cfg.RiskEntities...)
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}

	if !strings.Contains(cfg.DBPath, "://") && !strings.HasPrefix(cfg.DBPath, "libsql:") {
		if dir := filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}
	st, err := store.NewLibSQLStore(dsn(cfg.DBPath), store.WithValidator(validator))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		evaluator: ev,
		validator: validator,
	}

	docs, err := record.NewDocumentReader()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init reader: %w", err)
	}

	var thresholds conditions.ThresholdProvider = conditions.NewAppetiteThresholds(st)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.thresholds = conditions.NewCachedThresholds(a.redis, thresholds,
			conditions.WithTTL(time.Duration(cfg.ThresholdCacheTTL)),
			conditions.WithCacheLogger(logger),
		)
		thresholds = a.thresholds
	}

	a.checker = conditions.NewChecker(
		conditions.WithEvaluator(ev),
		conditions.WithReader(docs),
		conditions.WithThresholds(thresholds),
		conditions.WithRiskEntities(cfg.RiskEntities...),
		conditions.WithLogger(logger),
	)

	a.fsm = engine.NewInstanceFSM()
	logTransition := func(ctx context.Context, inst *schema.WorkflowInstance, from, to schema.InstanceStatus) error {
		if logging.InstanceID(ctx) == "" {
			ctx = logging.WithInstanceID(ctx, inst.ID)
		}
		logger.InfoContext(ctx, "instance transitioned",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	}
	for from, targets := range engine.ValidInstanceTransitions {
		for _, to := range targets {
			a.fsm.OnAfter(from, to, logTransition)
		}
	}

	a.progressor = engine.NewProgressor(st, a.checker,
		engine.WithChainLimit(cfg.ChainLimit),
		engine.WithFSM(a.fsm),
		engine.WithProgressLogger(logger),
	)
	a.starter = engine.NewStarter(st, a.fsm, logger)

	return a, nil
}

// addAppetite stores ra and drops cached thresholds for its tenant, so
// records checked afterwards see the new appetite.
func (a *app) addAppetite(ctx context.Context, ra *schema.RiskAppetite) error {
	if err := a.store.CreateRiskAppetite(ctx, ra); err != nil {
		return err
	}
	if a.thresholds == nil {
		return nil
	}
	if err := a.thresholds.Invalidate(ctx, ra.Tenant); err != nil {
		return fmt.Errorf("invalidate thresholds for tenant %q: %w", ra.Tenant, err)
	}
	return nil
}

// startMetrics serves Prometheus metrics in the background when configured.
func (a *app) startMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.exporter = metrics.NewExporter(a.cfg.MetricsAddr)
	go func() {
		if err := a.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics exporter stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", a.cfg.MetricsAddr))
}

func (a *app) close() {
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.exporter.Shutdown(ctx)
		cancel()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}
