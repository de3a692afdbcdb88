package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"beacon/internal/constants"
)

// EventRepository persists notification delivery records. Rows are only
// ever created and flagged; nothing deletes them.
type EventRepository interface {
	Create(ctx context.Context, event *Event) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRead(ctx context.Context, userID int64, ids []string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Event, error)
}

// UserDirectory resolves notification targets.
type UserDirectory interface {
	// FindElevatedActive returns every active user with a manager or admin
	// role. This is the broadcast fallback when no explicit targets are given.
	FindElevatedActive(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (*User, error)
}

// SettingsSource reads the operator channel switches.
type SettingsSource interface {
	ChannelSettings(ctx context.Context) (*ChannelSettings, error)
}

type PostgresEventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) EventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO notification_events (id, user_id, type, title, body, href,
			alert_id, client_id, channel, delivered, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, false, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.UserID, string(event.Type), event.Title, event.Body,
		event.Href, event.AlertID, event.ClientID, string(event.Channel), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification event: %w", err)
	}

	return nil
}

func (r *PostgresEventRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE notification_events SET delivered = true, delivered_at = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}

	return nil
}

// MarkRead acknowledges notifications for a user. With no ids it
// acknowledges everything currently unread.
func (r *PostgresEventRepository) MarkRead(ctx context.Context, userID int64, ids []string) error {
	var (
		query string
		args  []interface{}
	)

	if len(ids) > 0 {
		query = `UPDATE notification_events SET read = true, read_at = $1 WHERE user_id = $2 AND id = ANY($3)`
		args = []interface{}{time.Now(), userID, pq.Array(ids)}
	} else {
		query = `UPDATE notification_events SET read = true, read_at = $1 WHERE user_id = $2 AND read = false`
		args = []interface{}{time.Now(), userID}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}

	return nil
}

func (r *PostgresEventRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	query := `
		SELECT id, user_id, type, title, body, href, alert_id, client_id,
			channel, delivered, delivered_at, read, read_at, created_at
		FROM notification_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			event       Event
			eventType   string
			channel     string
			deliveredAt sql.NullTime
			readAt      sql.NullTime
		)
		err := rows.Scan(
			&event.ID, &event.UserID, &eventType, &event.Title, &event.Body,
			&event.Href, &event.AlertID, &event.ClientID, &channel,
			&event.Delivered, &deliveredAt, &event.Read, &readAt, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification event: %w", err)
		}
		event.Type = Type(eventType)
		event.Channel = Channel(channel)
		if deliveredAt.Valid {
			t := deliveredAt.Time
			event.DeliveredAt = &t
		}
		if readAt.Valid {
			t := readAt.Time
			event.ReadAt = &t
		}
		result = append(result, event)
	}

	return result, rows.Err()
}

type PostgresUserDirectory struct {
	db *sql.DB
}

func NewUserDirectory(db *sql.DB) UserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) FindElevatedActive(ctx context.Context) ([]User, error) {
	query := `SELECT id, email, name FROM users WHERE is_active AND role IN ('manager', 'admin')`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find elevated users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (d *PostgresUserDirectory) Get(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, email, name FROM users WHERE id = $1`

	var u User
	err := d.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

type PostgresSettingsSource struct {
	db *sql.DB
}

func NewSettingsSource(db *sql.DB) SettingsSource {
	return &PostgresSettingsSource{db: db}
}

// ChannelSettings reads the singleton settings row. A missing row means
// every channel is enabled.
func (s *PostgresSettingsSource) ChannelSettings(ctx context.Context) (*ChannelSettings, error) {
	query := `
		SELECT push_messages_enabled, push_tasks_enabled, email_notifications, task_assignment_alerts
		FROM global_settings
		LIMIT 1
	`

	var settings ChannelSettings
	err := s.db.QueryRowContext(ctx, query).Scan(
		&settings.PushMessagesEnabled, &settings.PushTasksEnabled,
		&settings.EmailNotifications, &settings.TaskAssignmentAlerts,
	)
	if err == sql.ErrNoRows {
		return DefaultChannelSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read channel settings: %w", err)
	}

	return &settings, nil
}
