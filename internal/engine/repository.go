package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"beacon/internal/constants"
	"beacon/internal/rules"
)

// AlertRepository persists alert events. Rows are immutable apart from the
// auto-task flag.
type AlertRepository interface {
	Create(ctx context.Context, alert *AlertEvent) error
	SetAutoTaskCreated(ctx context.Context, alertID string) error
	List(ctx context.Context, filter AlertFilter) ([]AlertEvent, error)
	Get(ctx context.Context, id string) (*AlertEvent, error)
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	ClientID   *int64
	SourceType *rules.SourceType
	Limit      int
}

// TaskRepository persists materialized tasks and their alert links.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	CreateLink(ctx context.Context, link *TaskAlertLink) error
	GetLinkByAlert(ctx context.Context, alertID string) (*TaskAlertLink, error)
}

// ClientDirectory resolves the subject client of an alert. Get returns
// nil without error when the client no longer exists.
type ClientDirectory interface {
	Get(ctx context.Context, id int64) (*Client, error)
}

type PostgresAlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) AlertRepository {
	return &PostgresAlertRepository{db: db}
}

func (r *PostgresAlertRepository) Create(ctx context.Context, alert *AlertEvent) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.CreatedAt = time.Now()

	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal alert metadata: %w", err)
	}

	query := `
		INSERT INTO alert_events (id, type, severity, client_id, title, description,
			source_type, source_id, metadata, rule_id, auto_task_created, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Type, string(alert.Severity), alert.ClientID, alert.Title,
		alert.Description, string(alert.SourceType), alert.SourceID, metadataJSON,
		alert.RuleID, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

func (r *PostgresAlertRepository) SetAutoTaskCreated(ctx context.Context, alertID string) error {
	query := `UPDATE alert_events SET auto_task_created = true WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, alertID); err != nil {
		return fmt.Errorf("failed to flag alert auto task: %w", err)
	}

	return nil
}

func (r *PostgresAlertRepository) Get(ctx context.Context, id string) (*AlertEvent, error) {
	query := `
		SELECT id, type, severity, client_id, title, description, source_type,
			source_id, metadata, rule_id, auto_task_created, created_at
		FROM alert_events
		WHERE id = $1
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

func (r *PostgresAlertRepository) List(ctx context.Context, filter AlertFilter) ([]AlertEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	query := `
		SELECT id, type, severity, client_id, title, description, source_type,
			source_id, metadata, rule_id, auto_task_created, created_at
		FROM alert_events
		WHERE ($1::bigint IS NULL OR client_id = $1)
			AND ($2::text IS NULL OR source_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	var sourceType *string
	if filter.SourceType != nil {
		s := string(*filter.SourceType)
		sourceType = &s
	}

	rows, err := r.db.QueryContext(ctx, query, filter.ClientID, sourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var result []AlertEvent
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		result = append(result, *alert)
	}

	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*AlertEvent, error) {
	var (
		alert        AlertEvent
		severity     string
		sourceType   string
		metadataJSON []byte
	)

	err := row.Scan(
		&alert.ID, &alert.Type, &severity, &alert.ClientID, &alert.Title,
		&alert.Description, &sourceType, &alert.SourceID, &metadataJSON,
		&alert.RuleID, &alert.AutoTaskCreated, &alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Severity = rules.Severity(severity)
	alert.SourceType = rules.SourceType(sourceType)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &alert.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
		}
	}

	return &alert, nil
}

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &PostgresTaskRepository{db: db}
}

func (r *PostgresTaskRepository) Create(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now()

	briefJSON, err := json.Marshal(task.Brief)
	if err != nil {
		return fmt.Errorf("failed to marshal task brief: %w", err)
	}

	query := `
		INSERT INTO client_tasks (id, client_id, title, category, priority, status,
			source, source_alert_id, brief, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.ClientID, task.Title, task.Category, task.Priority,
		task.Status, task.Source, task.SourceAlertID, briefJSON, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) CreateLink(ctx context.Context, link *TaskAlertLink) error {
	link.CreatedAt = time.Now()

	query := `INSERT INTO task_alert_links (task_id, alert_id, created_at) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, link.TaskID, link.AlertID, link.CreatedAt); err != nil {
		return fmt.Errorf("failed to create task alert link: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) GetLinkByAlert(ctx context.Context, alertID string) (*TaskAlertLink, error) {
	query := `SELECT task_id, alert_id, created_at FROM task_alert_links WHERE alert_id = $1`

	var link TaskAlertLink
	err := r.db.QueryRowContext(ctx, query, alertID).Scan(&link.TaskID, &link.AlertID, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task alert link: %w", err)
	}

	return &link, nil
}

type PostgresClientDirectory struct {
	db *sql.DB
}

func NewClientDirectory(db *sql.DB) ClientDirectory {
	return &PostgresClientDirectory{db: db}
}

func (d *PostgresClientDirectory) Get(ctx context.Context, id int64) (*Client, error) {
	query := `SELECT id, business_name FROM clients WHERE id = $1`

	var client Client
	err := d.db.QueryRowContext(ctx, query, id).Scan(&client.ID, &client.BusinessName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &client, nil
}
