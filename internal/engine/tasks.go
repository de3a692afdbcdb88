package engine

import (
	"context"
	"strings"

	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/internal/rules"
)

// TaskMaterializer turns a triggered alert into a trackable work item
// using the rule's template.
type TaskMaterializer struct {
	tasks   TaskRepository
	clients ClientDirectory
	logger  logger.Logger
}

func NewTaskMaterializer(tasks TaskRepository, clients ClientDirectory, log logger.Logger) *TaskMaterializer {
	return &TaskMaterializer{tasks: tasks, clients: clients, logger: log}
}

// Materialize creates a task and its alert link. It returns nil without
// error when the rule has no template or the subject client no longer
// exists; both are no-ops, not failures.
func (m *TaskMaterializer) Materialize(ctx context.Context, rule *rules.Rule, alert *AlertEvent) (*Task, error) {
	if !rule.AutoCreateTask || rule.TaskTemplate == nil {
		return nil, nil
	}

	client, err := m.clients.Get(ctx, alert.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		m.logger.DebugwCtx(ctx, "Skipping task creation, client not found",
			"client_id", alert.ClientID, "rule_id", rule.ID)
		return nil, nil
	}

	template := rule.TaskTemplate

	title := template.Title
	if title == "" {
		title = "Alert: " + alert.Title
	}
	title = strings.ReplaceAll(title, "{clientName}", client.BusinessName)
	title = strings.ReplaceAll(title, "{alertType}", alert.Type)

	category := template.Category
	if category == "" {
		category = constants.DefaultTaskCategory
	}
	priority := template.Priority
	if priority == "" {
		priority = constants.DefaultTaskPriority
	}

	brief := map[string]interface{}{
		"alert_id":       alert.ID,
		"alert_type":     alert.Type,
		"alert_severity": string(alert.Severity),
		"alert_title":    alert.Title,
	}
	for k, v := range template.Brief {
		brief[k] = v
	}

	task := &Task{
		ClientID:      alert.ClientID,
		Title:         title,
		Category:      category,
		Priority:      priority,
		Status:        constants.TaskStatusQueued,
		Source:        constants.TaskSourceAlertRule,
		SourceAlertID: alert.ID,
		Brief:         brief,
	}

	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	if err := m.tasks.CreateLink(ctx, &TaskAlertLink{TaskID: task.ID, AlertID: alert.ID}); err != nil {
		return nil, err
	}

	return task, nil
}
