package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutosaveTickTask(t *testing.T) {
	task, err := NewAutosaveTickTask(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeAutosaveTick, task.Type())

	payload, err := ParseAutosaveTickPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, payload.Interval)
	assert.False(t, payload.RegisteredAt.IsZero())
}

func TestParseAutosaveTickPayload_Invalid(t *testing.T) {
	_, err := ParseAutosaveTickPayload([]byte("not json"))
	assert.Error(t, err)
}
