package broker

import (
	"context"
	"time"
)

type Producer interface {
	// Publish JSON-encodes payload and writes it to topic under key.
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// Message is one consumed record. Value is the raw payload.
type Message struct {
	Topic string
	Key   string
	Value []byte
	Time  time.Time
}

// HandlerFunc processes one message. Returning an error marked with
// retry.Permanent sends the message straight to the DLQ.
type HandlerFunc func(ctx context.Context, msg Message) error

// DeadLetter is the DLQ record of a message that could not be processed.
type DeadLetter struct {
	SourceTopic string    `json:"source_topic"`
	Key         string    `json:"key,omitempty"`
	Payload     string    `json:"payload"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}
