package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"beacon/internal/broker"
	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/internal/notify"
	"beacon/internal/rules"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	pkgmodels "beacon/pkg/models"
)

// Engine evaluates a shaped producer event against every active rule for
// its source type and runs the side-effect pipeline for each trigger.
type Engine interface {
	Evaluate(ctx context.Context, input Input) (*Result, error)
}

type engine struct {
	rules        rules.Store
	alerts       AlertRepository
	materializer *TaskMaterializer
	notifier     notify.Service
	archive      Archive
	stream       broker.Producer
	streamTopic  string
	logger       logger.Logger
}

type Option func(*engine)

// WithArchive enables full-payload alert snapshots in MongoDB.
func WithArchive(archive Archive) Option {
	return func(e *engine) {
		e.archive = archive
	}
}

// WithAlertStream publishes every created alert on a Kafka topic for
// downstream consumers. Publishing is fire-and-forget.
func WithAlertStream(producer broker.Producer, topic string) Option {
	return func(e *engine) {
		e.stream = producer
		e.streamTopic = topic
	}
}

func NewEngine(
	ruleStore rules.Store,
	alerts AlertRepository,
	materializer *TaskMaterializer,
	notifier notify.Service,
	log logger.Logger,
	opts ...Option,
) Engine {
	e := &engine{
		rules:        ruleStore,
		alerts:       alerts,
		materializer: materializer,
		notifier:     notifier,
		archive:      NopArchive{},
		logger:       log,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate runs one pass. Rules are independent: a failure inside one
// rule is recorded and the loop continues, so the returned Result always
// reflects every rule that did fire. The error, when non-nil, aggregates
// the per-rule failures.
func (e *engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	if !input.SourceType.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown source type '%s'", input.SourceType))
	}

	start := time.Now()
	defer func() {
		metrics.ObserveEvaluationDuration(string(input.SourceType), time.Since(start))
	}()

	candidates, err := e.rules.FindActive(ctx, input.SourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	metrics.SetActiveRules(string(input.SourceType), len(candidates))

	result := &Result{}
	var ruleErrs []error

	for i := range candidates {
		rule := &candidates[i]
		ruleCtx := logging.WithRuleID(ctx, rule.ID)

		created := len(result.AlertsCreated)
		if err := e.evaluateRule(ruleCtx, input, rule, result); err != nil {
			// A rule that persisted its alert is already counted as
			// triggered; only rules that produced nothing count as errors,
			// so outcomes sum to evaluations.
			if len(result.AlertsCreated) == created {
				metrics.RulesEvaluatedTotal.WithLabelValues(string(input.SourceType), "error").Inc()
			}
			e.logger.ErrorwCtx(ruleCtx, "Rule evaluation failed",
				"rule_name", rule.Name, "error", err)
			ruleErrs = append(ruleErrs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}

	return result, errors.Join(ruleErrs...)
}

func (e *engine) evaluateRule(ctx context.Context, input Input, rule *rules.Rule, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()

	now := time.Now()

	if rules.InCooldown(rule, now) {
		metrics.RulesEvaluatedTotal.WithLabelValues(string(input.SourceType), "suppressed").Inc()
		metrics.AlertsSuppressedTotal.WithLabelValues(string(input.SourceType), "cooldown").Inc()
		return nil
	}

	if !rules.EvaluateCondition(input.Data, rule.Condition) {
		metrics.RulesEvaluatedTotal.WithLabelValues(string(input.SourceType), "no_match").Inc()
		return nil
	}

	// The claim is the conditional re-arm of the cooldown. When two passes
	// race on the same rule, exactly one update wins and only the winner
	// creates the alert.
	claimed, err := e.rules.ClaimTrigger(ctx, rule.ID, now, rules.CooldownWindow(rule))
	if err != nil {
		return fmt.Errorf("failed to claim trigger: %w", err)
	}
	if !claimed {
		metrics.RulesEvaluatedTotal.WithLabelValues(string(input.SourceType), "suppressed").Inc()
		metrics.AlertsSuppressedTotal.WithLabelValues(string(input.SourceType), "claim_lost").Inc()
		return nil
	}

	// Severity, title and description are snapshotted here. Rule edits
	// after this point do not alter the alert.
	alert := &AlertEvent{
		Type:        string(input.SourceType) + "_rule",
		Severity:    rule.Severity,
		ClientID:    input.ClientID,
		Title:       rule.Name,
		Description: rule.Description,
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		Metadata:    input.Data,
		RuleID:      rule.ID,
	}

	if err := e.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}
	metrics.RulesEvaluatedTotal.WithLabelValues(string(input.SourceType), "triggered").Inc()
	metrics.AlertsTriggeredTotal.WithLabelValues(string(input.SourceType), string(rule.Severity)).Inc()

	e.logger.InfowCtx(ctx, "Alert triggered",
		"alert_id", alert.ID,
		"rule_name", rule.Name,
		"severity", rule.Severity,
		"client_id", input.ClientID)

	e.archive.Store(ctx, alert)
	e.publishStream(ctx, alert)

	var stageErrs []error

	if rule.AutoCreateTask {
		task, err := e.materializer.Materialize(ctx, rule, alert)
		if err != nil {
			stageErrs = append(stageErrs, fmt.Errorf("task stage: %w", err))
		} else if task != nil {
			if err := e.alerts.SetAutoTaskCreated(ctx, alert.ID); err != nil {
				stageErrs = append(stageErrs, fmt.Errorf("task stage: %w", err))
			} else {
				alert.AutoTaskCreated = true
			}
			metrics.TasksCreatedTotal.Inc()
			result.TasksCreated = append(result.TasksCreated, *task)
		}
	}

	if rule.NotifyOnTrigger {
		events, err := e.dispatchNotification(ctx, input, rule, alert)
		if err != nil {
			stageErrs = append(stageErrs, fmt.Errorf("notify stage: %w", err))
		}
		result.NotificationsSent = append(result.NotificationsSent, events...)
	}

	result.AlertsCreated = append(result.AlertsCreated, *alert)

	return errors.Join(stageErrs...)
}

func (e *engine) dispatchNotification(ctx context.Context, input Input, rule *rules.Rule, alert *AlertEvent) ([]notify.Event, error) {
	href := constants.AlertsHref
	var clientID *int64
	if input.ClientID != 0 {
		href = constants.ClientHrefPrefix + strconv.FormatInt(input.ClientID, 10)
		id := input.ClientID
		clientID = &id
	}

	return e.notifier.Dispatch(ctx, notify.CreateInput{
		Type:     notify.TypeAlert,
		Title:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(rule.Severity)), rule.Name),
		Body:     rule.Description,
		Href:     href,
		AlertID:  &alert.ID,
		ClientID: clientID,
	})
}

func (e *engine) publishStream(ctx context.Context, alert *AlertEvent) {
	if e.stream == nil {
		return
	}

	event := pkgmodels.AlertStreamEvent{
		AlertID:    alert.ID,
		RuleID:     alert.RuleID,
		Type:       alert.Type,
		Severity:   string(alert.Severity),
		Title:      alert.Title,
		SourceType: string(alert.SourceType),
		SourceID:   alert.SourceID,
		ClientID:   alert.ClientID,
		Metadata:   alert.Metadata,
		CreatedAt:  alert.CreatedAt,
	}

	key := strconv.FormatInt(alert.ClientID, 10)
	if err := e.stream.Publish(ctx, e.streamTopic, key, event); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to publish alert stream event",
			"alert_id", alert.ID, "error", err)
	}
}
