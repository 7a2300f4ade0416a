package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kpi-alerts/internal/alerting"
	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/ingest"
	"kpi-alerts/internal/metrics"
	"kpi-alerts/internal/rules"
	"kpi-alerts/internal/scheduler"
	"kpi-alerts/internal/storage"
)

// Loader fetches the current observation feed.
type Loader func(ctx context.Context) (ingest.Result, error)

// Settings are the runtime knobs of the watch loop.
type Settings struct {
	Analysis Options
	AlertsOn bool
	LockKey  int64
}

// Service orchestrates loading, evaluation, persistence, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	load      Loader
	ruleSet   rules.Set
	store     storage.AnomalyStore
	notifier  alerting.Notifier
	deduper   alerting.Deduper
	logger    zerolog.Logger

	opts     Options
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64

	mu            sync.Mutex
	lastPersisted string
}

// New constructs the monitoring service. store, notifier and deduper are optional.
func New(settings Settings, sched *scheduler.Scheduler, load Loader, ruleSet rules.Set, store storage.AnomalyStore, notifier alerting.Notifier, deduper alerting.Deduper, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	opts := settings.Analysis
	opts.Rules = ruleSet.Rules()

	return &Service{
		scheduler: sched,
		load:      load,
		ruleSet:   ruleSet,
		store:     store,
		notifier:  notifier,
		deduper:   deduper,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		alertsOn:  settings.AlertsOn,
		locker:    locker,
		lockKey:   settings.LockKey,
	}
}

// Run begins the scheduled evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.Tick(ctx, at)
		return err
	})
}

// Tick 执行一次完整的评估: 加载、分析、落库、通知。
func (s *Service) Tick(ctx context.Context, at time.Time) (Result, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Result{}, err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return Result{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	loaded, err := s.load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load observations: %w", err)
	}
	if loaded.Dropped > 0 {
		s.logger.Warn().Int("dropped", loaded.Dropped).Int("total", loaded.Total).Msg("rows dropped during ingest")
	}

	started := time.Now()
	result := Analyze(loaded.Rows, s.opts)
	metrics.ObserveEvaluation(time.Since(started), result.Anomalies, result.Quality)

	s.logger.Info().Time("at", at).
		Int("rows", len(result.Rows)).
		Int("periods", len(result.Periods)).
		Int("anomalies", len(result.Anomalies)).
		Int("invalid_dates", result.Quality.InvalidCount).
		Int("duplicate_keys", result.Quality.DuplicateCount).
		Msg("evaluation complete")

	notify := detector.Notifiable(result.Anomalies, s.ruleSet)
	delivered := s.dispatch(ctx, at, notify)
	s.persist(ctx, at, result.Anomalies, delivered)

	return result, nil
}

func (s *Service) dispatch(ctx context.Context, at time.Time, anomalies []detector.Anomaly) bool {
	if !s.alertsOn || s.notifier == nil || len(anomalies) == 0 {
		return false
	}

	payload := alerting.BuildPayload(anomalies, at)
	digest := alerting.Digest(payload)

	if s.deduper != nil {
		changed, err := s.deduper.Changed(ctx, digest)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dedupe lookup failed; delivering anyway")
			changed = true
		}
		if !changed {
			metrics.ObserveNotification(metrics.OutcomeSuppressed)
			s.logger.Debug().Str("digest", digest).Msg("anomaly batch unchanged; notification suppressed")
			return false
		}
	}

	if err := s.notifier.Notify(ctx, payload); err != nil {
		metrics.ObserveNotification(metrics.OutcomeFailed)
		s.logger.Error().Err(err).Int("count", payload.Count).Msg("failed to dispatch anomalies")
		return false
	}
	metrics.ObserveNotification(metrics.OutcomeDelivered)

	if s.deduper != nil {
		if err := s.deduper.Commit(ctx, digest); err != nil {
			s.logger.Warn().Err(err).Msg("failed to remember delivered digest")
		}
	}
	s.logger.Info().Int("count", payload.Count).Msg("anomalies dispatched")
	return true
}

// persist 只在异常集合变化或本轮推送成功时写库, 避免每个 tick 重复插入同一批记录。
func (s *Service) persist(ctx context.Context, at time.Time, anomalies []detector.Anomaly, delivered bool) {
	if s.store == nil || len(anomalies) == 0 {
		return
	}

	digest := alerting.Digest(alerting.BuildPayload(anomalies, at))
	s.mu.Lock()
	defer s.mu.Unlock()
	if !delivered && digest != "" && digest == s.lastPersisted {
		s.logger.Debug().Str("digest", digest).Msg("anomaly set unchanged; skip persistence")
		return
	}

	var sent, kept []detector.Anomaly
	for _, a := range anomalies {
		if delivered && s.ruleSet.Notifiable(a.RuleID) {
			sent = append(sent, a)
		} else {
			kept = append(kept, a)
		}
	}

	ok := true
	if err := s.store.InsertAnomalies(ctx, at, sent, true); err != nil {
		ok = false
		s.logger.Error().Err(err).Msg("failed to persist notified anomalies")
	}
	if err := s.store.InsertAnomalies(ctx, at, kept, false); err != nil {
		ok = false
		s.logger.Error().Err(err).Msg("failed to persist anomalies")
	}
	if ok {
		s.lastPersisted = digest
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
