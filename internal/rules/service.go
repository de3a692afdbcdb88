package rules

import (
	"context"
	"strings"

	pkgerrors "beacon/pkg/errors"
)

// Service is the management surface for alert rules. Rules are disabled
// rather than removed so alerts created from them keep a resolvable origin.
type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error)
	DeactivateRule(ctx context.Context, id string) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error) {
	if err := ValidateCreateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	severity := req.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	rule := &Rule{
		Name:            req.Name,
		Description:     req.Description,
		SourceType:      req.SourceType,
		Condition:       req.Condition,
		Severity:        severity,
		CooldownMinutes: req.CooldownMinutes,
		NotifyOnTrigger: getBoolValue(req.NotifyOnTrigger, true),
		AutoCreateTask:  getBoolValue(req.AutoCreateTask, false),
		TaskTemplate:    req.TaskTemplate,
		IsActive:        getBoolValue(req.IsActive, true),
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		if pkgerrors.IsConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	return rule, nil
}

func (s *service) ListRules(ctx context.Context) ([]Rule, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return rules, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error) {
	if err := ValidateUpdateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}

	s.applyUpdate(rule, req)

	if rule.AutoCreateTask && rule.TaskTemplate == nil {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "task_template is required when auto_create_task is enabled")
	}

	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, s.handleNotFoundError(err, id)
	}

	return rule, nil
}

func (s *service) DeactivateRule(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return s.handleNotFoundError(err, id)
	}
	return nil
}

func (s *service) applyUpdate(rule *Rule, req UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Condition != nil {
		rule.Condition = *req.Condition
	}
	if req.Severity != nil {
		rule.Severity = *req.Severity
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.NotifyOnTrigger != nil {
		rule.NotifyOnTrigger = *req.NotifyOnTrigger
	}
	if req.AutoCreateTask != nil {
		rule.AutoCreateTask = *req.AutoCreateTask
	}
	if req.TaskTemplate != nil {
		rule.TaskTemplate = req.TaskTemplate
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
}

func (s *service) handleNotFoundError(err error, id string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "not found") {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func getBoolValue(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
