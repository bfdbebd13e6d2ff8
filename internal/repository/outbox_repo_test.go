package repository

import (
	"context"
	"testing"

	"binancedash/internal/model"
	"binancedash/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepo_PendingLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for _, key := range []string{"alice", "bob"} {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: key,
			Topic:      "t",
			EventType:  model.EventAccountBound,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}))
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "alice", pending[0].MessageKey)

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID))

	failed, err := repo.RecordFailure(ctx, pending[1], 2)
	require.NoError(t, err)
	assert.False(t, failed)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	failed, err = repo.RecordFailure(ctx, pending[0], 2)
	require.NoError(t, err)
	assert.True(t, failed)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var dead []*model.OutboxMessage
	require.NoError(t, db.Where("status = ?", model.OutboxStatusFailed).Find(&dead).Error)
	require.Len(t, dead, 1)
	assert.Equal(t, "bob", dead[0].MessageKey)
	assert.Equal(t, 2, dead[0].RetryCount)

	n, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.CountByStatus(ctx, model.OutboxStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
