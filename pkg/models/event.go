package models

import "time"

// SourceEvent is the wire shape producers put on the source topic. Payload
// carries the already-shaped evaluation data; the engine never reaches back
// into the producing domain.
type SourceEvent struct {
	ID         string                 `json:"id"`
	SourceType string                 `json:"source_type"`
	SourceID   int64                  `json:"source_id"`
	ClientID   int64                  `json:"client_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload"`
}

// AlertStreamEvent is published to the alert stream topic after an alert is
// persisted, for downstream consumers (dashboards, exporters).
type AlertStreamEvent struct {
	AlertID    string                 `json:"alert_id"`
	RuleID     string                 `json:"rule_id"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	Title      string                 `json:"title"`
	SourceType string                 `json:"source_type"`
	SourceID   int64                  `json:"source_id"`
	ClientID   int64                  `json:"client_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
