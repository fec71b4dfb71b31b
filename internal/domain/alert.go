package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// QualityAlert is an advisory record of a data-quality rule violation.
// Alerts never block or roll back ingestion; they are the only channel
// through which downstream systems learn of data problems. DedupKey caps
// alert volume at one per rule per day.
type QualityAlert struct {
	ID         string    `json:"id"`
	RuleName   string    `json:"rule_name"`
	Severity   string    `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
	Details    string    `json:"details"`
	DedupKey   string    `json:"dedup_key"`
}

// AlertDedupKey builds the daily dedup key for a quality rule.
func AlertDedupKey(rule string, day time.Time) string {
	return fmt.Sprintf("%s:%s", rule, day.UTC().Format("2006-01-02"))
}

// MonitorDefinition is an operator-configured anomaly rule, stored as data
// so that adding a monitor requires no code change. Predicate is a boolean
// expression over the trailing-window stats fields (see WindowStats).
type MonitorDefinition struct {
	Name             string  `json:"name"`
	WindowMinutes    int     `json:"window_minutes"`
	Predicate        string  `json:"predicate"`
	CooldownMinutes  int     `json:"cooldown_minutes"`
	ProposedAction   string  `json:"proposed_action"`
	ActionConfidence float64 `json:"action_confidence"`
	IsEnabled        bool    `json:"is_enabled"`
}

// AgentAction is an immutable ledger entry recording a triggered monitor and
// its proposed operator action. Insertion is the sole mutation path.
type AgentAction struct {
	ID             string          `json:"id"`
	MonitorName    string          `json:"monitor_name"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	Evidence       json.RawMessage `json:"evidence"`
	ProposedAction string          `json:"proposed_action"`
	Confidence     float64         `json:"confidence"`
	DedupKey       string          `json:"dedup_key"`
}

// WindowStats is the aggregate picture of the trailing window a monitor
// predicate is evaluated against.
type WindowStats struct {
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	WindowMinutes  int       `json:"window_minutes"`
	TxnCount       int64     `json:"txn_count"`
	GrossRevenue   float64   `json:"gross_revenue"`
	AvgTicket      float64   `json:"avg_ticket"`
	MaxTxnAmount   float64   `json:"max_txn_amount"`
	StoreCount     int64     `json:"store_count"`
	FlaggedCount   int64     `json:"flagged_count"`
	UnresolvedRate float64   `json:"unresolved_rate"`
}

// Field resolves a predicate identifier to its numeric value.
func (s *WindowStats) Field(name string) (float64, bool) {
	switch name {
	case "txn_count":
		return float64(s.TxnCount), true
	case "gross_revenue":
		return s.GrossRevenue, true
	case "avg_ticket":
		return s.AvgTicket, true
	case "max_txn_amount":
		return s.MaxTxnAmount, true
	case "store_count":
		return float64(s.StoreCount), true
	case "flagged_count":
		return float64(s.FlaggedCount), true
	case "unresolved_rate":
		return s.UnresolvedRate, true
	case "window_minutes":
		return float64(s.WindowMinutes), true
	}
	return 0, false
}
