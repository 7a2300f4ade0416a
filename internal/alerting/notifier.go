package alerting

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"kpi-alerts/internal/detector"
)

// PayloadType tags every outbound batch.
const PayloadType = "kpi_anomalies"

// Item 是推送给外部的单条异常。
type Item struct {
	Date      string  `json:"date"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Rule      string  `json:"rule"`
	Score     float64 `json:"score"`
	Severity  string  `json:"severity"`
	Direction string  `json:"direction"`
}

// Payload 封装一次告警批次。
type Payload struct {
	Type  string    `json:"type"`
	At    time.Time `json:"at"`
	Count int       `json:"count"`
	Items []Item    `json:"items"`
}

// BuildPayload converts anomalies into the outbound batch. Scores are rounded
// to two decimal places. Anomalies with an infinite or NaN value or score
// cannot be encoded as JSON and are left out.
func BuildPayload(anomalies []detector.Anomaly, at time.Time) Payload {
	items := make([]Item, 0, len(anomalies))
	for _, a := range anomalies {
		if !finite(a.Value) || !finite(a.Score) {
			continue
		}
		items = append(items, Item{
			Date:      a.Date,
			Metric:    a.Metric,
			Value:     a.Value,
			Rule:      a.RuleLabel,
			Score:     decimal.NewFromFloat(a.Score).Round(2).InexactFloat64(),
			Severity:  string(a.Severity),
			Direction: string(a.Direction),
		})
	}
	return Payload{Type: PayloadType, At: at.UTC(), Count: len(items), Items: items}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// formatNumber renders v with decimal; places < 0 keeps every digit.
// Non-finite values fall back to strconv since decimal cannot hold them.
func formatNumber(v float64, places int32) string {
	if !finite(v) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	d := decimal.NewFromFloat(v)
	if places < 0 {
		return d.String()
	}
	return d.StringFixed(places)
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, payload Payload) error
}

// Multi fans a payload out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to all members even if some fail.
func (m Multi) Notify(ctx context.Context, payload Payload) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = Multi(nil)
