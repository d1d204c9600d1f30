package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fluxrules/internal/logger"
)

func observed() (*LogRecorder, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLogRecorder(&logger.SugaredLogger{SugaredLogger: zap.New(core).Sugar()}), logs
}

func TestLogRecorder(t *testing.T) {
	rec, logs := observed()

	require.NoError(t, rec.Record(context.Background(), Entry{
		FactID:   "f1",
		RuleID:   "R1",
		Action:   "flag_for_review",
		Status:   "success",
		Duration: 3 * time.Millisecond,
	}))
	require.NoError(t, rec.Record(context.Background(), Entry{
		RuleID: "R2",
		Action: "call_webhook",
		Status: "failed",
		Error:  "status 500",
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "R1", entries[0].ContextMap()["rule_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "status 500", entries[1].ContextMap()["error"])
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, Entry) error {
	f.calls++
	return errors.New("db down")
}

func TestMultiRecordsEverywhere(t *testing.T) {
	rec, logs := observed()
	failing := &failingRecorder{}

	err := Multi{failing, rec}.Record(context.Background(), Entry{RuleID: "R1", Status: "success"})

	assert.EqualError(t, err, "db down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, logs.Len())
}
