package engine

import (
	"time"

	"beacon/internal/notify"
	"beacon/internal/rules"
)

// Input is the generic shape every producer feeds into the engine. Data is
// the already-shaped payload the rule conditions evaluate against.
type Input struct {
	SourceType rules.SourceType       `json:"source_type"`
	SourceID   int64                  `json:"source_id"`
	ClientID   int64                  `json:"client_id"`
	Data       map[string]interface{} `json:"data"`
}

// Result summarizes one evaluation pass. Producers always get a summary
// back; channel-level delivery failures never surface here.
type Result struct {
	AlertsCreated     []AlertEvent   `json:"alerts_created"`
	TasksCreated      []Task         `json:"tasks_created"`
	NotificationsSent []notify.Event `json:"notifications_sent"`
}

// AlertEvent is the immutable record of one rule firing. Severity, title
// and description are copied from the rule at trigger time so later rule
// edits do not rewrite history. AutoTaskCreated is the only field written
// after creation.
type AlertEvent struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	Severity        rules.Severity         `json:"severity"`
	ClientID        int64                  `json:"client_id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	SourceType      rules.SourceType       `json:"source_type"`
	SourceID        int64                  `json:"source_id"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	RuleID          string                 `json:"rule_id"`
	AutoTaskCreated bool                   `json:"auto_task_created"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Task is a work item materialized from a triggered alert.
type Task struct {
	ID            string                 `json:"id"`
	ClientID      int64                  `json:"client_id"`
	Title         string                 `json:"title"`
	Category      string                 `json:"category"`
	Priority      string                 `json:"priority"`
	Status        string                 `json:"status"`
	Source        string                 `json:"source"`
	SourceAlertID string                 `json:"source_alert_id"`
	Brief         map[string]interface{} `json:"brief,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TaskAlertLink joins a task to the alert that spawned it.
type TaskAlertLink struct {
	TaskID    string    `json:"task_id"`
	AlertID   string    `json:"alert_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the slice of the client directory the engine needs.
type Client struct {
	ID           int64  `json:"id"`
	BusinessName string `json:"business_name"`
}
