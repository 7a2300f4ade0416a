package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"kpi-alerts/internal/alerting"
	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/series"
	"kpi-alerts/internal/service"
)

var defaultSimulatedMetrics = []string{"sales", "visits", "conversion"}

// Simulate 生成带随机尖峰的合成序列，评估后打印结果，可选推送告警。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	set, err := a.loadRules()
	if err != nil {
		return err
	}
	analysis, err := a.analysisOptions(set)
	if err != nil {
		return err
	}
	// synthetic data is generated relative to today; the range filter would hide older spikes
	analysis.RangeDays = 0

	rows := SyntheticSeries(opts, time.Now().UTC())
	result := service.Analyze(rows, analysis)

	fmt.Fprintf(a.Out, "Simulated %d row(s), %d anomaly(ies)\n", len(rows), len(result.Anomalies))
	if len(result.Anomalies) > 0 {
		writeAnomalies(a.Out, result.Anomalies)
	}

	if !opts.Notify {
		return nil
	}
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	notify := detector.Notifiable(result.Anomalies, set)
	if len(notify) == 0 {
		a.Logger.Info().Msg("no notifiable anomalies in simulated series")
		return nil
	}
	return notifier.Notify(ctx, alerting.BuildPayload(notify, time.Now()))
}

// SyntheticSeries builds daily series ending at end with opts.Spikes random
// spikes per metric. The same seed yields the same rows.
func SyntheticSeries(opts SimulateOptions, end time.Time) []series.Observation {
	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = defaultSimulatedMetrics
	}
	days := opts.Days
	if days <= 0 {
		days = 60
	}
	spikes := opts.Spikes
	if spikes < 0 {
		spikes = 0
	}
	if spikes > days {
		spikes = days
	}

	seed := uint64(opts.Seed)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	start := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	rows := make([]series.Observation, 0, days*len(metrics))
	for _, m := range metrics {
		base := 50 + rng.Float64()*950
		spikeAt := make(map[int]float64, spikes)
		for len(spikeAt) < spikes {
			factor := 2.5 + rng.Float64()
			if rng.IntN(2) == 0 {
				factor = 0.2 + rng.Float64()*0.2
			}
			spikeAt[rng.IntN(days)] = factor
		}

		for d := 0; d < days; d++ {
			v := base * (1 + (rng.Float64()-0.5)*0.1)
			if f, ok := spikeAt[d]; ok {
				v *= f
			}
			rows = append(rows, series.Observation{
				Date:   start.AddDate(0, 0, d).Format(series.DayLayout),
				Metric: m,
				Value:  v,
			})
		}
	}
	return rows
}
