package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObservationRecord is a persisted observation row.
type ObservationRecord struct {
	ID         int64
	Date       string
	Metric     string
	Value      decimal.Decimal
	Source     string
	ImportedAt time.Time
}

// AnomalyRecord captures an anomaly emitted by one evaluation pass.
type AnomalyRecord struct {
	ID          int64
	EvaluatedAt time.Time
	Period      string
	Metric      string
	Value       decimal.Decimal
	RuleID      string
	RuleLabel   string
	Score       decimal.Decimal
	Severity    string
	Direction   string
	Notified    bool
}
