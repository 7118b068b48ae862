package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvent(t *testing.T, events EventRepository, id, step, status string) *model.ProvisioningEvent {
	t.Helper()

	event := &model.ProvisioningEvent{
		ID:         id,
		InstanceID: "in-1",
		Phase:      model.PhaseProvision,
		Step:       step,
		Status:     model.EventStarted,
		StartedAt:  time.Now(),
	}
	require.NoError(t, events.Append(context.Background(), event))

	if status != model.EventStarted {
		event.Status = status
		require.NoError(t, events.Complete(context.Background(), event))
	}
	return event
}

func TestEventRepository_AppendAndComplete(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	events := NewEventRepository(repo.DB())
	ctx := context.Background()

	appendEvent(t, events, "evt-1", "create_network", model.EventSucceeded)

	list, err := events.ListByInstance(ctx, "in-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.EventSucceeded, list[0].Status)
	assert.NotNil(t, list[0].CompletedAt)
}

func TestEventRepository_SucceededSteps(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	events := NewEventRepository(repo.DB())
	ctx := context.Background()

	appendEvent(t, events, "evt-1", "create_network", model.EventSucceeded)
	appendEvent(t, events, "evt-2", "create_container", model.EventSucceeded)
	// 同一步骤后来失败了，断点恢复必须重新执行它
	appendEvent(t, events, "evt-3", "create_container", model.EventFailed)
	// 还在执行中的步骤不算成功
	appendEvent(t, events, "evt-4", "create_database", model.EventStarted)

	succeeded, err := events.SucceededSteps(ctx, "in-1", model.PhaseProvision)
	require.NoError(t, err)
	assert.True(t, succeeded["create_network"])
	assert.False(t, succeeded["create_container"])
	assert.False(t, succeeded["create_database"])
}

func TestEventRepository_CountStepRuns(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)
	events := NewEventRepository(repo.DB())
	ctx := context.Background()

	appendEvent(t, events, "evt-1", "create_network", model.EventFailed)
	appendEvent(t, events, "evt-2", "create_network", model.EventSucceeded)

	count, err := events.CountStepRuns(ctx, "in-1", model.PhaseProvision, "create_network")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = events.CountStepRuns(ctx, "in-1", model.PhaseDestroy, "create_network")
	require.NoError(t, err)
	assert.Zero(t, count)
}
