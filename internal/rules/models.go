package rules

import "time"

// SourceType scopes a rule to one producing domain. Producers never share
// rules: a payment rule is never evaluated against a scan payload.
type SourceType string

const (
	SourceCompetitiveScan SourceType = "competitive_scan"
	SourcePaymentCheck    SourceType = "payment_check"
	SourceRankTracking    SourceType = "rank_tracking"
	SourceCitationScan    SourceType = "citation_scan"
	SourceHealth          SourceType = "health"
	SourceManual          SourceType = "manual"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceCompetitiveScan, SourcePaymentCheck, SourceRankTracking,
		SourceCitationScan, SourceHealth, SourceManual:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Operator is the closed set of condition operators. Unknown operators are
// rejected at rule-save time; the evaluator additionally treats them as
// non-matching so pre-existing bad rows fail closed instead of firing.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpLessThan       Operator = "lt"
	OpGreaterOrEqual Operator = "gte"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "neq"
	OpContains       Operator = "contains"
	OpChangedTo      Operator = "changed_to"
)

func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpEqual, OpNotEqual, OpContains, OpChangedTo:
		return true
	}
	return false
}

// ConditionConfig describes one trigger condition. Field is a dot-separated
// path into the event payload. WindowMinutes is carried for rolling-window
// conditions but not interpreted by the evaluator itself.
type ConditionConfig struct {
	Field         string      `json:"field"`
	Operator      Operator    `json:"operator"`
	Value         interface{} `json:"value"`
	WindowMinutes int         `json:"window,omitempty"`
}

// TaskTemplate shapes the work item materialized from a triggered rule.
// Title supports the {clientName} and {alertType} placeholders.
type TaskTemplate struct {
	Title    string                 `json:"title,omitempty"`
	Category string                 `json:"category,omitempty"`
	Priority string                 `json:"priority,omitempty"`
	Brief    map[string]interface{} `json:"brief,omitempty"`
}

// Rule is an operator-authored trigger configuration. The engine mutates
// only LastTriggeredAt; everything else is owned by the management API.
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	SourceType      SourceType      `json:"source_type"`
	Condition       ConditionConfig `json:"condition"`
	Severity        Severity        `json:"severity"`
	CooldownMinutes int             `json:"cooldown_minutes"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	NotifyOnTrigger bool            `json:"notify_on_trigger"`
	AutoCreateTask  bool            `json:"auto_create_task"`
	TaskTemplate    *TaskTemplate   `json:"task_template,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CreateRuleRequest struct {
	Name            string          `json:"name" binding:"required"`
	Description     string          `json:"description"`
	SourceType      SourceType      `json:"source_type" binding:"required"`
	Condition       ConditionConfig `json:"condition" binding:"required"`
	Severity        Severity        `json:"severity"`
	CooldownMinutes int             `json:"cooldown_minutes"`
	NotifyOnTrigger *bool           `json:"notify_on_trigger"`
	AutoCreateTask  *bool           `json:"auto_create_task"`
	TaskTemplate    *TaskTemplate   `json:"task_template"`
	IsActive        *bool           `json:"is_active"`
}

type UpdateRuleRequest struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	Condition       *ConditionConfig `json:"condition"`
	Severity        *Severity        `json:"severity"`
	CooldownMinutes *int             `json:"cooldown_minutes"`
	NotifyOnTrigger *bool            `json:"notify_on_trigger"`
	AutoCreateTask  *bool            `json:"auto_create_task"`
	TaskTemplate    *TaskTemplate    `json:"task_template"`
	IsActive        *bool            `json:"is_active"`
}
