package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/testutil"
)

var _ logging.Logger = (*testutil.MockLogger)(nil)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_ChildrenShareBuffer(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.With(logging.RunID("r1")).Named("pipeline").Named("scenario")

	child.Warn("fallback", logging.Scenario(3))

	found := root.Find("warn", "fallback")
	require.Len(t, found, 1)
	assert.Equal(t, "pipeline.scenario", found[0].Logger)
	v, ok := found[0].Field("run_id")
	assert.True(t, ok)
	assert.Equal(t, "r1", v)
	v, _ = found[0].Field("scenario")
	assert.Equal(t, 3, v)
	_, ok = found[0].Field("missing")
	assert.False(t, ok)
}
