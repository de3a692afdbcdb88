package engine

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"beacon/internal/logger"
)

// Archive keeps full-payload snapshots of alert events for audit and
// debugging. Archiving is best effort: a failure is logged and never
// blocks the evaluation pass.
type Archive interface {
	Store(ctx context.Context, alert *AlertEvent)
}

type MongoArchive struct {
	collection *mongo.Collection
	logger     logger.Logger
}

func NewMongoArchive(db *mongo.Database, log logger.Logger) *MongoArchive {
	return &MongoArchive{
		collection: db.Collection("alert_events"),
		logger:     log,
	}
}

func (a *MongoArchive) Store(ctx context.Context, alert *AlertEvent) {
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	doc := map[string]interface{}{
		"alert_id":    alert.ID,
		"type":        alert.Type,
		"severity":    string(alert.Severity),
		"client_id":   alert.ClientID,
		"title":       alert.Title,
		"description": alert.Description,
		"source_type": string(alert.SourceType),
		"source_id":   alert.SourceID,
		"metadata":    alert.Metadata,
		"rule_id":     alert.RuleID,
		"created_at":  alert.CreatedAt,
	}

	if _, err := a.collection.InsertOne(archiveCtx, doc); err != nil {
		a.logger.WarnwCtx(ctx, "Failed to archive alert event",
			"alert_id", alert.ID, "error", err)
	}
}

// NopArchive stands in when no MongoDB is configured.
type NopArchive struct{}

func (NopArchive) Store(context.Context, *AlertEvent) {}
