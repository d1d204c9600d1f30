package rulestore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fluxrules/internal/rete"
)

// FileSource reads rules from a YAML (or JSON) document. The document is
// either a list of rules or a mapping with a `rules` key.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) LoadRules(ctx context.Context) ([]rete.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", s.path, err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", s.path, err)
	}
	return rules, nil
}

// ParseRules decodes a YAML or JSON rule document.
func ParseRules(data []byte) ([]rete.Rule, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	switch t := doc.(type) {
	case nil:
		return []rete.Rule{}, nil
	case []interface{}:
		return decodeRules(t)
	case map[string]interface{}:
		list, ok := t["rules"]
		if !ok || list == nil {
			return []rete.Rule{}, nil
		}
		items, ok := list.([]interface{})
		if !ok {
			return nil, fmt.Errorf("`rules` must be a list, got %T", list)
		}
		return decodeRules(items)
	default:
		return nil, fmt.Errorf("rules document must be a list or a mapping, got %T", doc)
	}
}
