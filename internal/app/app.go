package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"kpi-alerts/internal/alerting"
	"kpi-alerts/internal/config"
	"kpi-alerts/internal/ingest"
	"kpi-alerts/internal/metrics"
	"kpi-alerts/internal/rules"
	"kpi-alerts/internal/scheduler"
	"kpi-alerts/internal/series"
	"kpi-alerts/internal/service"
	"kpi-alerts/internal/storage"
)

// ErrNoSource is returned when neither source.path nor a database is configured.
var ErrNoSource = errors.New("no observation source: set source.path (--input) or database.dsn")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables and listings.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) loadRules() (rules.Set, error) {
	if a.Config.RulesFile != "" {
		set, skipped, err := rules.LoadFile(a.Config.RulesFile)
		if err != nil {
			return rules.Set{}, err
		}
		a.logSkipped(skipped)
		return set, nil
	}

	rs, skipped := rules.FromSpecs(a.Config.Rules)
	a.logSkipped(skipped)
	set, err := rules.NewSet(rs...)
	if err != nil {
		return rules.Set{}, fmt.Errorf("build rule set: %w", err)
	}
	return set, nil
}

func (a *App) logSkipped(skipped []error) {
	for _, err := range skipped {
		a.Logger.Warn().Err(err).Msg("skipping rule")
	}
}

func (a *App) analysisOptions(set rules.Set) (service.Options, error) {
	g, err := series.ParseGranularity(a.Config.Analysis.Granularity)
	if err != nil {
		return service.Options{}, err
	}
	opts := service.Options{
		Granularity: g,
		RangeDays:   a.Config.Analysis.RangeDays,
		Rules:       set.Rules(),
	}
	if a.Config.Analysis.MovingAverage.Enabled {
		opts.MovingAverage = a.Config.Analysis.MovingAverage.Window
	}
	return opts, nil
}

func (a *App) sourceSpec() ingest.Source {
	return ingest.Source{
		Location:  a.Config.Source.Path,
		Format:    ingest.Format(a.Config.Source.Format),
		Timeout:   a.Config.Source.Timeout,
		UserAgent: a.Config.Source.UserAgent,
	}
}

// newLoader reads source.path when set and falls back to stored observations.
func (a *App) newLoader(store storage.ObservationStore) (service.Loader, error) {
	if a.Config.Source.Path != "" {
		src := a.sourceSpec()
		return func(ctx context.Context) (ingest.Result, error) {
			return ingest.Load(ctx, src)
		}, nil
	}
	if store == nil {
		return nil, ErrNoSource
	}
	return func(ctx context.Context) (ingest.Result, error) {
		rows, err := store.ListObservations(ctx, "")
		if err != nil {
			return ingest.Result{}, err
		}
		return ingest.Result{Rows: rows, Total: len(rows)}, nil
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Multi
	if cfg := a.Config.Alerting.Webhook; cfg.Enabled {
		out = append(out, alerting.NewWebhookNotifier(cfg.URL, cfg.Timeout, a.Logger))
	}
	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

func (a *App) newDeduper(ctx context.Context) (alerting.Deduper, func(), error) {
	cfg := a.Config.Alerting.Dedupe
	if cfg.Backend != "redis" {
		return alerting.NewMemoryDeduper(), nil, nil
	}

	d, err := alerting.NewRedisDeduper(ctx, alerting.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, func() { _ = d.Close() }, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// analyze loads the configured source once and runs a full analysis pass.
func (a *App) analyze(ctx context.Context) (service.Result, rules.Set, error) {
	set, err := a.loadRules()
	if err != nil {
		return service.Result{}, rules.Set{}, err
	}
	opts, err := a.analysisOptions(set)
	if err != nil {
		return service.Result{}, rules.Set{}, err
	}

	var obsStore storage.ObservationStore
	if a.Config.Source.Path == "" {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return service.Result{}, rules.Set{}, err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if store != nil {
			obsStore = store
		}
	}

	load, err := a.newLoader(obsStore)
	if err != nil {
		return service.Result{}, rules.Set{}, err
	}
	loaded, err := load(ctx)
	if err != nil {
		return service.Result{}, rules.Set{}, fmt.Errorf("load observations: %w", err)
	}
	if loaded.Dropped > 0 {
		a.Logger.Warn().Int("dropped", loaded.Dropped).Int("total", loaded.Total).Msg("rows dropped during ingest")
	}

	return service.Analyze(loaded.Rows, opts), set, nil
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	set, err := a.loadRules()
	if err != nil {
		return err
	}
	opts, err := a.analysisOptions(set)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var obsStore storage.ObservationStore
	var anomalyStore storage.AnomalyStore
	if store != nil {
		obsStore = store
		anomalyStore = store
		a.pruneHistory(ctx, store)
	}

	load, err := a.newLoader(obsStore)
	if err != nil {
		return err
	}

	deduper, closeDeduper, err := a.newDeduper(ctx)
	if err != nil {
		return err
	}
	if closeDeduper != nil {
		defer closeDeduper()
	}

	notifier := a.newNotifier()
	if a.Config.Alerting.Enabled && notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if addr := a.Config.Metrics.Address; addr != "" {
		stop := a.serveMetrics(addr, reg)
		defer stop()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	settings := service.Settings{
		Analysis: opts,
		AlertsOn: a.Config.Alerting.Enabled,
		LockKey:  a.Config.Scheduler.AdvisoryLockKey,
	}
	svc := service.New(settings, sched, load, set, anomalyStore, notifier, deduper, a.Logger)

	a.Logger.Info().Int("rules", set.Len()).Str("granularity", string(opts.Granularity)).Msg("starting watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

func (a *App) pruneHistory(ctx context.Context, store storage.AnomalyStore) {
	retention := a.Config.Database.Retention
	if retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-retention)
	if err := store.DeleteAnomaliesBefore(ctx, cutoff); err != nil {
		a.Logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune anomaly history")
	}
}

func (a *App) serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// ExportOptions hold parameters for exporting an analysis pass.
type ExportOptions struct {
	AnomaliesCSV string
	DataCSV      string
	PNGPath      string
	Metric       string
	MaxPoints    int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Top     int
	History int
}

// ImportOptions configure the import job.
type ImportOptions struct {
	SourceName string
	DryRun     bool
}

// SimulateOptions configure the synthetic series generator.
type SimulateOptions struct {
	Metrics []string
	Days    int
	Spikes  int
	Seed    int64
	Notify  bool
}
