package rulestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fluxrules/internal/rete"
	"fluxrules/pkg/metrics"
)

type ruleDocument struct {
	ID           string    `bson:"id"`
	Name         string    `bson:"name"`
	Description  string    `bson:"description,omitempty"`
	Group        string    `bson:"group,omitempty"`
	Priority     int       `bson:"priority"`
	Enabled      bool      `bson:"enabled"`
	Condition    bson.Raw  `bson:"condition"`
	Action       string    `bson:"action"`
	ActionParams bson.Raw  `bson:"action_params,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type MongoSource struct {
	collection *mongo.Collection
}

func NewMongoSource(collection *mongo.Collection) *MongoSource {
	return &MongoSource{collection: collection}
}

func (s *MongoSource) Name() string { return "mongodb" }

func (s *MongoSource) LoadRules(ctx context.Context) ([]rete.Rule, error) {
	start := time.Now()
	rules, err := s.find(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("mongodb", "load_rules", status, time.Since(start))

	return rules, err
}

func (s *MongoSource) find(ctx context.Context) ([]rete.Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "id", Value: 1}})

	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []rete.Rule
	for cursor.Next(ctx) {
		var doc ruleDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode rule: %w", err)
		}
		rule, err := doc.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor iteration error: %w", err)
	}

	return rules, nil
}

// toRule goes through relaxed extended JSON so that BSON numeric types all
// arrive as plain JSON numbers.
func (d ruleDocument) toRule() (rete.Rule, error) {
	rule := rete.Rule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Group:       d.Group,
		Priority:    d.Priority,
		Enabled:     d.Enabled,
		Action:      rete.Action{Name: d.Action},
	}

	condition, err := bson.MarshalExtJSON(d.Condition, false, false)
	if err != nil {
		return rete.Rule{}, fmt.Errorf("rule %s: failed to read condition: %w", d.ID, err)
	}
	if rule.Condition, err = rete.ParseCondition(condition); err != nil {
		return rete.Rule{}, fmt.Errorf("rule %s: invalid condition: %w", d.ID, err)
	}

	if len(d.ActionParams) > 0 {
		params, err := bson.MarshalExtJSON(d.ActionParams, false, false)
		if err != nil {
			return rete.Rule{}, fmt.Errorf("rule %s: failed to read action params: %w", d.ID, err)
		}
		if err := json.Unmarshal(params, &rule.Action.Params); err != nil {
			return rete.Rule{}, fmt.Errorf("rule %s: invalid action params: %w", d.ID, err)
		}
	}

	return rule, nil
}

// SaveRule upserts a rule by id.
func (s *MongoSource) SaveRule(ctx context.Context, rule rete.Rule) error {
	condition, err := toRaw(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	var params bson.Raw
	if rule.Action.Params != nil {
		if params, err = toRaw(rule.Action.Params); err != nil {
			return fmt.Errorf("failed to encode action params: %w", err)
		}
	}

	now := time.Now()
	set := bson.D{
		{Key: "name", Value: rule.Name},
		{Key: "description", Value: rule.Description},
		{Key: "group", Value: rule.Group},
		{Key: "priority", Value: rule.Priority},
		{Key: "enabled", Value: rule.Enabled},
		{Key: "condition", Value: condition},
		{Key: "action", Value: rule.Action.Name},
		{Key: "updated_at", Value: now},
	}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}}}
	if params != nil {
		set = append(set, bson.E{Key: "action_params", Value: params})
	} else {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "action_params", Value: ""}}})
	}
	update = append(update, bson.E{Key: "$set", Value: set})

	start := time.Now()
	_, err = s.collection.UpdateOne(ctx, bson.D{{Key: "id", Value: rule.ID}}, update, options.Update().SetUpsert(true))
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("mongodb", "save_rule", status, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

func toRaw(v interface{}) (bson.Raw, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, err
	}
	return bson.Marshal(doc)
}
