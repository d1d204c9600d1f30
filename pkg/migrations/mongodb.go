package migrations

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Server codes for an index that exists under another name or definition.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// RuleIndexes are the indexes the rule source loads and upserts through:
// a unique rule id plus the load order (created_at, id).
func RuleIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("rules_id_uniq").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetName("rules_load_order"),
		},
		{
			Keys:    bson.D{{Key: "group", Value: 1}, {Key: "priority", Value: -1}},
			Options: options.Index().SetName("rules_group_priority"),
		},
	}
}

// EnsureRulesCollection creates RuleIndexes on collection. Indexes that
// already exist with a different definition are left alone.
func EnsureRulesCollection(ctx context.Context, collection *mongo.Collection) error {
	if _, err := collection.Indexes().CreateMany(ctx, RuleIndexes()); err != nil && !indexConflict(err) {
		return fmt.Errorf("failed to create rule indexes on %s: %w", collection.Name(), err)
	}
	return nil
}

func indexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == codeIndexOptionsConflict || cmdErr.Code == codeIndexKeySpecsConflict
	}
	return false
}
