package notify

import "time"

// Type classifies what a notification is about.
type Type string

const (
	TypeAlert       Type = "alert"
	TypeTaskAssign  Type = "task_assigned"
	TypeTaskStatus  Type = "task_status"
	TypeReportReady Type = "report_ready"
	TypeSystem      Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAlert, TypeTaskAssign, TypeTaskStatus, TypeReportReady, TypeSystem:
		return true
	}
	return false
}

// Channel is the requested delivery channel set for a notification. It
// records intent, not outcome: a notification created with ChannelAll keeps
// that value even when individual channels are globally switched off.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelAll   Channel = "all"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelAll:
		return true
	}
	return false
}

// Event is one delivery record per (targeted user, notification).
//
// Delivered means the dispatch attempt for this row completed, not that
// every requested channel succeeded. Channel failures surface in logs and
// metrics only.
type Event struct {
	ID          string     `json:"id"`
	UserID      int64      `json:"user_id"`
	Type        Type       `json:"type"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Href        string     `json:"href,omitempty"`
	AlertID     *string    `json:"alert_id,omitempty"`
	ClientID    *int64     `json:"client_id,omitempty"`
	Channel     Channel    `json:"channel"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateInput describes one notification to fan out. Empty UserIDs falls
// back to a broadcast to every active manager or admin.
type CreateInput struct {
	Type     Type    `json:"type"`
	Title    string  `json:"title"`
	Body     string  `json:"body,omitempty"`
	Href     string  `json:"href,omitempty"`
	AlertID  *string `json:"alert_id,omitempty"`
	ClientID *int64  `json:"client_id,omitempty"`
	UserIDs  []int64 `json:"user_ids,omitempty"`
	Channel  Channel `json:"channel,omitempty"`
}

// ChannelSettings is the operator-managed set of channel kill switches,
// read once per dispatch and passed through explicitly.
type ChannelSettings struct {
	PushMessagesEnabled  bool `json:"push_messages_enabled"`
	PushTasksEnabled     bool `json:"push_tasks_enabled"`
	EmailNotifications   bool `json:"email_notifications"`
	TaskAssignmentAlerts bool `json:"task_assignment_alerts"`
}

// DefaultChannelSettings applies when no settings row exists: every
// channel is enabled.
func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		PushMessagesEnabled:  true,
		PushTasksEnabled:     true,
		EmailNotifications:   true,
		TaskAssignmentAlerts: true,
	}
}

// User is the slice of the user directory the dispatcher needs for
// targeting and email delivery.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RealtimeMessage is the payload published on the per-user in-app channel.
type RealtimeMessage struct {
	NotificationID   string    `json:"notification_id"`
	NotificationType Type      `json:"notification_type"`
	Title            string    `json:"title"`
	Body             string    `json:"body,omitempty"`
	Href             string    `json:"href,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PushMessage is the payload handed to the push gateway.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// EmailMessage is the payload handed to the SMTP sender.
type EmailMessage struct {
	To      string
	Name    string
	Subject string
	Body    string
	Href    string
}
