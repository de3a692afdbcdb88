package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "beacon/pkg/errors"
)

// Store is the engine-facing slice of the repository: load candidates,
// atomically claim a trigger.
type Store interface {
	FindActive(ctx context.Context, sourceType SourceType) ([]Rule, error)
	ClaimTrigger(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error)
}

// Repository adds the management surface on top of Store. Rules are
// deactivated rather than deleted so trigger history keeps its back-references.
type Repository interface {
	Store
	Create(ctx context.Context, rule *Rule) error
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Deactivate(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, name, description, source_type, condition, severity,
	cooldown_minutes, last_triggered_at, notify_on_trigger, auto_create_task,
	task_template, is_active, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	templateJSON, err := marshalTemplate(rule.TaskTemplate)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules (id, name, description, source_type, condition, severity,
			cooldown_minutes, notify_on_trigger, auto_create_task, task_template,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, string(rule.SourceType), conditionJSON,
		string(rule.Severity), rule.CooldownMinutes, rule.NotifyOnTrigger,
		rule.AutoCreateTask, templateJSON, rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" {
				return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", rule.Name))
			}
		}
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY created_at DESC`
	return r.queryRules(ctx, query)
}

func (r *PostgresRepository) FindActive(ctx context.Context, sourceType SourceType) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE source_type = $1 AND is_active`
	return r.queryRules(ctx, query, string(sourceType))
}

func (r *PostgresRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var result []Rule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		result = append(result, *rule)
	}

	return result, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now()

	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	templateJSON, err := marshalTemplate(rule.TaskTemplate)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules
		SET name = $1, description = $2, condition = $3, severity = $4,
			cooldown_minutes = $5, notify_on_trigger = $6, auto_create_task = $7,
			task_template = $8, is_active = $9, updated_at = $10
		WHERE id = $11
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, conditionJSON, string(rule.Severity),
		rule.CooldownMinutes, rule.NotifyOnTrigger, rule.AutoCreateTask,
		templateJSON, rule.IsActive, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("rule not found")
	}

	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE alert_rules SET is_active = false, updated_at = $1 WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("rule not found")
	}

	return nil
}

// ClaimTrigger re-arms the cooldown with a conditional update: it succeeds
// only when the stored last_triggered_at is still outside the cooldown
// window. Two near-simultaneous evaluation passes both read a stale
// timestamp, but only one row update wins, so only the winner creates the
// alert.
func (r *PostgresRepository) ClaimTrigger(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $1
		WHERE id = $2 AND is_active
			AND (last_triggered_at IS NULL OR last_triggered_at <= $3)
	`

	res, err := r.db.ExecContext(ctx, query, now, ruleID, now.Add(-cooldown))
	if err != nil {
		return false, fmt.Errorf("failed to claim trigger: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule          Rule
		sourceType    string
		severity      string
		conditionJSON []byte
		templateJSON  []byte
		lastTriggered sql.NullTime
	)

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &sourceType, &conditionJSON,
		&severity, &rule.CooldownMinutes, &lastTriggered, &rule.NotifyOnTrigger,
		&rule.AutoCreateTask, &templateJSON, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.SourceType = SourceType(sourceType)
	rule.Severity = Severity(severity)
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}

	if err := json.Unmarshal(conditionJSON, &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
	}
	if len(templateJSON) > 0 {
		var template TaskTemplate
		if err := json.Unmarshal(templateJSON, &template); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task template: %w", err)
		}
		rule.TaskTemplate = &template
	}

	return &rule, nil
}

func marshalTemplate(template *TaskTemplate) ([]byte, error) {
	if template == nil {
		return nil, nil
	}
	data, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task template: %w", err)
	}
	return data, nil
}
