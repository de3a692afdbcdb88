package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"beacon/internal/constants"
	"beacon/internal/logger"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/metrics"
)

// Service creates and fans out notifications, and exposes the per-user
// read surface.
type Service interface {
	// Dispatch creates one Event per resolved target user and attempts
	// delivery on the requested channels. It returns the created events
	// together with an aggregate of per-user persistence failures.
	// Channel delivery failures are logged and counted, never returned.
	Dispatch(ctx context.Context, input CreateInput) ([]Event, error)
	List(ctx context.Context, userID int64, limit int) ([]Event, error)
	MarkRead(ctx context.Context, userID int64, ids []string) error
}

type dispatcher struct {
	events      EventRepository
	users       UserDirectory
	settings    SettingsSource
	realtime    RealtimePublisher
	push        PushSender
	email       EmailSender
	fanoutLimit int
	logger      logger.Logger
}

func NewDispatcher(
	events EventRepository,
	users UserDirectory,
	settings SettingsSource,
	realtime RealtimePublisher,
	push PushSender,
	email EmailSender,
	fanoutLimit int,
	log logger.Logger,
) Service {
	if fanoutLimit <= 0 {
		fanoutLimit = constants.DefaultFanoutLimit
	}

	return &dispatcher{
		events:      events,
		users:       users,
		settings:    settings,
		realtime:    realtime,
		push:        push,
		email:       email,
		fanoutLimit: fanoutLimit,
		logger:      log,
	}
}

func (d *dispatcher) Dispatch(ctx context.Context, input CreateInput) ([]Event, error) {
	if !input.Type.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown notification type '%s'", input.Type))
	}
	if input.Title == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "title is required")
	}

	channel := input.Channel
	if channel == "" {
		channel = ChannelInApp
	}
	if !channel.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown channel '%s'", channel))
	}

	// Settings are read once per dispatch and applied uniformly to every
	// target user in the batch.
	settings, err := d.settings.ChannelSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel settings: %w", err)
	}

	targets, err := d.resolveTargets(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	usePush := (channel == ChannelPush || channel == ChannelAll) &&
		settings.PushMessagesEnabled &&
		(input.Type != TypeTaskAssign || settings.PushTasksEnabled)
	useEmail := (channel == ChannelEmail || channel == ChannelAll) &&
		settings.EmailNotifications

	var (
		mu      sync.Mutex
		created []Event
		userErr []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fanoutLimit)

	for _, userID := range targets {
		userID := userID
		g.Go(func() error {
			event, err := d.deliverToUser(gctx, userID, input, channel, usePush, useEmail)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				userErr = append(userErr, fmt.Errorf("user %d: %w", userID, err))
			}
			if event != nil {
				created = append(created, *event)
			}
			// One user's failure must not cancel the rest of the batch.
			return nil
		})
	}
	_ = g.Wait()

	return created, errors.Join(userErr...)
}

func (d *dispatcher) resolveTargets(ctx context.Context, input CreateInput) ([]int64, error) {
	if len(input.UserIDs) > 0 {
		return input.UserIDs, nil
	}

	// Broadcast fallback. Callers that need precise targeting must pass
	// explicit user ids.
	users, err := d.users.FindElevatedActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target users: %w", err)
	}

	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func (d *dispatcher) deliverToUser(ctx context.Context, userID int64, input CreateInput, channel Channel, usePush, useEmail bool) (*Event, error) {
	event := &Event{
		UserID:   userID,
		Type:     input.Type,
		Title:    input.Title,
		Body:     input.Body,
		Href:     input.Href,
		AlertID:  input.AlertID,
		ClientID: input.ClientID,
		Channel:  channel,
	}

	if err := d.events.Create(ctx, event); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to persist notification event",
			"user_id", userID, "type", input.Type, "error", err)
		return nil, err
	}
	metrics.NotificationsCreatedTotal.WithLabelValues(string(input.Type)).Inc()

	// In-app delivery is always attempted and never blocks.
	d.realtime.Publish(userID, RealtimeMessage{
		NotificationID:   event.ID,
		NotificationType: event.Type,
		Title:            event.Title,
		Body:             event.Body,
		Href:             event.Href,
		CreatedAt:        event.CreatedAt,
	})

	if usePush {
		d.deliverPush(ctx, userID, input)
	}
	if useEmail {
		d.deliverEmail(ctx, userID, input)
	}

	// Delivered records that the attempt sequence completed, not that every
	// channel succeeded.
	now := time.Now()
	if err := d.events.MarkDelivered(ctx, event.ID, now); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to mark notification delivered",
			"notification_id", event.ID, "error", err)
		return event, err
	}
	event.Delivered = true
	event.DeliveredAt = &now

	return event, nil
}

func (d *dispatcher) deliverPush(ctx context.Context, userID int64, input CreateInput) {
	start := time.Now()
	err := d.push.Send(ctx, userID, PushMessage{
		Title: input.Title,
		Body:  input.Body,
		URL:   input.Href,
		Tag:   string(input.Type),
	})
	metrics.ObserveChannelDelivery("push", time.Since(start), err)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Push delivery failed",
			"user_id", userID, "error", err)
	}
}

func (d *dispatcher) deliverEmail(ctx context.Context, userID int64, input CreateInput) {
	user, err := d.users.Get(ctx, userID)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Email delivery skipped, user lookup failed",
			"user_id", userID, "error", err)
		return
	}
	if user == nil {
		return
	}

	body := input.Body
	if body == "" {
		body = input.Title
	}

	start := time.Now()
	err = d.email.Send(ctx, EmailMessage{
		To:      user.Email,
		Name:    user.Name,
		Subject: input.Title,
		Body:    body,
		Href:    input.Href,
	})
	metrics.ObserveChannelDelivery("email", time.Since(start), err)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Email delivery failed",
			"user_id", userID, "error", err)
	}
}

func (d *dispatcher) List(ctx context.Context, userID int64, limit int) ([]Event, error) {
	events, err := d.events.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return events, nil
}

func (d *dispatcher) MarkRead(ctx context.Context, userID int64, ids []string) error {
	if err := d.events.MarkRead(ctx, userID, ids); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}
