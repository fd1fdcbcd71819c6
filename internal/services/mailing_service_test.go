package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailingService_Create(t *testing.T) {
	f := newFixture(t)
	_, adapter, q := newTestQueue(t, "test:mailing")
	service := NewMailingService(f.db, f.mailings, f.users, q)
	ctx := context.Background()

	t.Run("fans out one message per recipient", func(t *testing.T) {
		mailing, err := service.Create(ctx, 1, "season update", []int64{10, 11, 12})
		require.NoError(t, err)
		assert.Equal(t, 3, mailing.Total)
		assert.Equal(t, model.MailingStatusInProgress, mailing.Status)

		count, err := f.mailings.CountUnfinishedMessages(ctx, mailing.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		stream, err := adapter.Client().XRange(ctx, "test:mailing", "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, stream, 3)

		// only the final fan-out message carries the finalization marker
		for i, entry := range stream {
			var msg model.NotificationMessage
			require.NoError(t, json.Unmarshal([]byte(entry.Values["data"].(string)), &msg))
			assert.Equal(t, mailing.ID, msg.MailingID)
			assert.Equal(t, "season update", msg.Text)
			assert.Equal(t, i == len(stream)-1, msg.IsLast)
		}
	})

	t.Run("empty recipient list is rejected", func(t *testing.T) {
		_, err := service.Create(ctx, 1, "nobody home", nil)
		assert.ErrorIs(t, err, ErrEmptyMailing)
	})
}

func TestMailingService_CreateBroadcast(t *testing.T) {
	f := newFixture(t)
	_, adapter, q := newTestQueue(t, "test:mailing:broadcast")
	service := NewMailingService(f.db, f.mailings, f.users, q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.users.Create(ctx, &model.User{})
		require.NoError(t, err)
	}

	mailing, err := service.CreateBroadcast(ctx, 1, "for everyone")
	require.NoError(t, err)
	assert.Equal(t, 3, mailing.Total)

	stream, err := adapter.Client().XRange(ctx, "test:mailing:broadcast", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, stream, 3)
}

func TestMailingService_PublishFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	mr, adapter, q := newTestQueue(t, "test:mailing:fail")
	_ = adapter
	service := NewMailingService(f.db, f.mailings, f.users, q)
	ctx := context.Background()

	mr.Close()

	_, err := service.Create(ctx, 1, "doomed", []int64{1, 2})
	assert.Error(t, err)

	// nothing persisted: the job row rolled back with the publish
	_, err = f.mailings.Get(ctx, 1)
	assert.Error(t, err)
}

func TestMailingService_Cancel(t *testing.T) {
	f := newFixture(t)
	_, _, q := newTestQueue(t, "test:mailing:cancel")
	service := NewMailingService(f.db, f.mailings, f.users, q)
	ctx := context.Background()

	mailing, err := service.Create(ctx, 1, "cancel me", []int64{1, 2, 3})
	require.NoError(t, err)

	err = service.Cancel(ctx, mailing.ID)
	require.NoError(t, err)

	got, err := f.mailings.Get(ctx, mailing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MailingStatusCanceled, got.Status)
	assert.NotNil(t, got.FinishedAt)

	count, err := f.mailings.CountUnfinishedMessages(ctx, mailing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMailingService_CancelWithInflightMessages(t *testing.T) {
	f := newFixture(t)
	_, _, q := newTestQueue(t, "test:mailing:inflight")
	service := NewMailingService(f.db, f.mailings, f.users, q)
	ctx := context.Background()

	mailing, err := service.Create(ctx, 1, "partial", []int64{1, 2})
	require.NoError(t, err)

	// one recipient is already being delivered
	rows, err := f.mailings.ListMessages(ctx, mailing.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, f.mailings.SetMessageStatus(ctx, rows[0].ID, model.MailingMessageStatusInProgress, nil))

	err = service.Cancel(ctx, mailing.ID)
	require.NoError(t, err)

	// the in-flight row survives, so the job is not finalized yet
	got, err := f.mailings.Get(ctx, mailing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MailingStatusInProgress, got.Status)

	count, err := f.mailings.CountUnfinishedMessages(ctx, mailing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
