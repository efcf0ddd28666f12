package model

import "time"

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert event types.
const (
	AlertMatchSuggested     = "match.suggested"
	AlertMatchNoCandidates  = "match.no_candidates"
	AlertLedgerApplyPending = "ledger.apply_pending"
	AlertLedgerApplyFailed  = "ledger.apply_failed"
	AlertPeriodStale        = "period.stale"
)

type Alert struct {
	Event      string                 `json:"event"`
	Severity   AlertSeverity          `json:"severity"`
	SubjectID  string                 `json:"subject_id"`
	Message    string                 `json:"message"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
