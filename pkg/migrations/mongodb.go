package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureAlertArchive creates the indexes the alert archive collection is
// queried by. Safe to call on every startup.
func EnsureAlertArchive(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("alert_events")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_alert_events_client_created"),
		},
		{
			Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_alert_events_rule_created"),
		},
		{
			Keys:    bson.D{{Key: "source_type", Value: 1}, {Key: "source_id", Value: 1}},
			Options: options.Index().SetName("idx_alert_events_source"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create alert archive indexes: %w", err)
		}
	}

	return nil
}
