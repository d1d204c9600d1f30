package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ValidateFactEnvelope checks the envelope shape. Field values are checked
// when the payload is turned into a fact.
func ValidateFactEnvelope(env *FactEnvelope) error {
	switch {
	case env == nil:
		return invalid("envelope", "fact envelope cannot be nil")
	case env.ID == "":
		return invalid("id", "fact ID is required")
	case env.Payload == nil:
		return invalid("payload", "fact payload cannot be nil")
	}
	return nil
}

func ValidateRuleChangeEvent(e *RuleChangeEvent) error {
	switch {
	case e == nil:
		return invalid("event", "event cannot be nil")
	case e.EventType == "":
		return invalid("event_type", "event type is required")
	}
	return nil
}
