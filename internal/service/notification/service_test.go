package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/sse"
	"github.com/tunelog/notify/internal/pkg/validator"
	"github.com/tunelog/notify/internal/repository/memory"
)

func newTestService(t *testing.T, cfg Config) (notification.Service, notification.Repository, *sse.Hub) {
	t.Helper()
	repo := memory.NewNotificationRepository()
	hub := sse.NewHub(16)
	svc := NewNotificationService(repo, hub, cfg)
	t.Cleanup(svc.Stop)
	return svc, repo, hub
}

func like(recipient string) notification.CreateNotificationRequest {
	return notification.CreateNotificationRequest{
		RecipientID: recipient,
		Kind:        notification.KindLike,
		Payload:     notification.Payload{ActorName: "ana", TargetType: "review", TargetID: "r1"},
	}
}

func TestService_PublishStoresAndPushes(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, cleanup := svc.Subscribe(ctx, "u1")
	defer cleanup()

	resp, err := svc.Publish(ctx, like("u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.False(t, resp.Read)

	select {
	case ev := <-events:
		assert.Equal(t, notification.EventNotification, ev.Event)
		assert.Equal(t, resp.ID, ev.Data.ID)
	case <-time.After(time.Second):
		t.Fatal("event not pushed")
	}

	count, err := svc.GetUnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_PublishValidates(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})

	_, err := svc.Publish(context.Background(), notification.CreateNotificationRequest{Kind: notification.KindLike})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "recipient_id", verrs[0].Field)

	_, err = svc.Publish(context.Background(), notification.CreateNotificationRequest{RecipientID: "u1", Kind: "poke"})
	assert.ErrorIs(t, err, notification.ErrInvalidKind)
}

func TestService_ListPages(t *testing.T) {
	svc, repo, _ := newTestService(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &notification.Notification{
			ID:          fmt.Sprintf("n%d", i),
			RecipientID: "u1",
			Kind:        notification.KindFollow,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := svc.List(ctx, "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, "n4", page.Notifications[0].ID)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.List(ctx, "u1", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, "n2", page.Notifications[0].ID)
	assert.True(t, page.HasMore)

	page, err = svc.List(ctx, "u1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "n0", page.Notifications[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	_, err = svc.List(ctx, "u1", "not a cursor", 2)
	assert.ErrorIs(t, err, notification.ErrInvalidCursor)
}

func TestService_MarkOperations(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	a, err := svc.Publish(ctx, like("u1"))
	require.NoError(t, err)
	_, err = svc.Publish(ctx, like("u1"))
	require.NoError(t, err)

	require.NoError(t, svc.MarkAsRead(ctx, "u1", a.ID))
	assert.ErrorIs(t, svc.MarkAsRead(ctx, "u2", a.ID), notification.ErrNotificationNotFound)

	count, err := svc.GetUnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkAllAsRead(ctx, "u1"))
	count, err = svc.GetUnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestService_QueueFlushesInBatches(t *testing.T) {
	svc, _, hub := newTestService(t, Config{BatchSize: 3, FlushInterval: time.Hour, WorkerCount: 1})
	ctx := context.Background()

	events, cleanup := hub.Subscribe("u1")
	defer cleanup()

	require.NoError(t, svc.QueueBulkNotification(ctx, []notification.CreateNotificationRequest{
		like("u1"), like("u1"), like("u1"),
	}))

	require.Eventually(t, func() bool {
		count, err := svc.GetUnreadCount(ctx, "u1")
		return err == nil && count == 3
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(events) == 3 }, time.Second, 5*time.Millisecond)
}

func TestService_StopFlushesPending(t *testing.T) {
	repo := memory.NewNotificationRepository()
	svc := NewNotificationService(repo, sse.NewHub(4), Config{BatchSize: 100, FlushInterval: time.Hour, WorkerCount: 1})
	ctx := context.Background()

	require.NoError(t, svc.QueueNotification(ctx, like("u1")))
	svc.Stop()
	svc.Stop()

	count, err := repo.GetUnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_QueueBulkRejectsInvalidUpFront(t *testing.T) {
	svc, _, _ := newTestService(t, Config{WorkerCount: 1, FlushInterval: time.Hour})
	ctx := context.Background()

	err := svc.QueueBulkNotification(ctx, []notification.CreateNotificationRequest{
		like("u1"),
		{RecipientID: "u1", Kind: "poke"},
	})
	assert.ErrorIs(t, err, notification.ErrInvalidKind)

	svc.Stop()
	count, err := svc.GetUnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestService_SubscribeEndsWithContext(t *testing.T) {
	svc, _, hub := newTestService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	events, cleanup := svc.Subscribe(ctx, "u1")
	defer cleanup()
	assert.Equal(t, 1, hub.SubscriberCount("u1"))

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
}
