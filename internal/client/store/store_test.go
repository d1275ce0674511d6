package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunelog/notify/internal/domain/notification"
)

var errBoom = errors.New("boom")

// listCall is one pending ListNotifications request held by the fake
type listCall struct {
	cursor string
	reply  chan listReply
}

type listReply struct {
	page notification.Page
	err  error
}

// fakeGateway answers list calls either from a fixed page or, when blocking is
// set, by handing each call to the test through calls.
type fakeGateway struct {
	mu        sync.Mutex
	listCalls int
	markCalls []string
	markAll   int

	blocking bool
	calls    chan listCall
	page     notification.Page
	listErr  error

	counts   []int
	countErr error
	markErr  error
	allErr   error

	// onMark runs inside mark requests, before they answer
	onMark func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(chan listCall, 8)}
}

func (f *fakeGateway) ListNotifications(ctx context.Context, cursor string, limit int) (notification.Page, error) {
	f.mu.Lock()
	f.listCalls++
	blocking := f.blocking
	page, err := f.page, f.listErr
	f.mu.Unlock()

	if !blocking {
		return page, err
	}
	call := listCall{cursor: cursor, reply: make(chan listReply, 1)}
	f.calls <- call
	r := <-call.reply
	return r.page, r.err
}

func (f *fakeGateway) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	if len(f.counts) == 0 {
		return 0, nil
	}
	c := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return c, nil
}

func (f *fakeGateway) MarkAsRead(ctx context.Context, id string) error {
	f.mu.Lock()
	f.markCalls = append(f.markCalls, id)
	hook, err := f.onMark, f.markErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeGateway) MarkAllAsRead(ctx context.Context) error {
	f.mu.Lock()
	f.markAll++
	hook, err := f.onMark, f.allErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeGateway) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

var base = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func notif(id string, minute int, read bool) notification.Notification {
	return notification.Notification{
		ID:        id,
		Kind:      notification.KindLike,
		Payload:   notification.Payload{ActorName: "ana", TargetType: "review", TargetID: "r1"},
		Read:      read,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(items []notification.Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func TestStore_StartsEmpty(t *testing.T) {
	s := New(newFakeGateway())

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.False(t, snap.HasMore)
	assert.False(t, snap.IsLoading)
}

func TestStore_AddNotification_Idempotent(t *testing.T) {
	s := New(newFakeGateway())

	assert.True(t, s.AddNotification(notif("n1", 1, false)))
	assert.False(t, s.AddNotification(notif("n1", 1, false)))

	snap := s.Snapshot()
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestStore_AddNotification_ReadDoesNotCount(t *testing.T) {
	s := New(newFakeGateway())

	s.AddNotification(notif("n1", 1, true))
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStore_AddNotification_OrdersByCreatedAt(t *testing.T) {
	s := New(newFakeGateway())

	s.AddNotification(notif("n2", 2, false))
	s.AddNotification(notif("n3", 3, false))
	// arrives late but is older than both
	s.AddNotification(notif("n1", 1, false))

	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(s.Snapshot().Items))
}

func TestStore_FetchNotifications_Pagination(t *testing.T) {
	gw := newFakeGateway()
	gw.page = notification.Page{
		Items:      []notification.Notification{notif("n4", 4, false), notif("n3", 3, true)},
		NextCursor: "c1",
		HasMore:    true,
	}
	s := New(gw, WithPageSize(2))

	require.NoError(t, s.FetchNotifications(context.Background(), true))
	snap := s.Snapshot()
	assert.Equal(t, []string{"n4", "n3"}, ids(snap.Items))
	assert.True(t, snap.HasMore)

	gw.page = notification.Page{
		Items:   []notification.Notification{notif("n2", 2, false), notif("n1", 1, false)},
		HasMore: false,
	}
	require.NoError(t, s.FetchNotifications(context.Background(), false))
	snap = s.Snapshot()
	assert.Equal(t, []string{"n4", "n3", "n2", "n1"}, ids(snap.Items))
	assert.False(t, snap.HasMore)

	// end of list reached: no further request
	require.NoError(t, s.FetchNotifications(context.Background(), false))
	assert.Equal(t, 2, gw.listCallCount())
}

func TestStore_FetchNotifications_FailureKeepsState(t *testing.T) {
	gw := newFakeGateway()
	gw.page = notification.Page{Items: []notification.Notification{notif("n1", 1, false)}, HasMore: true, NextCursor: "c"}
	s := New(gw)
	require.NoError(t, s.FetchNotifications(context.Background(), true))
	before := s.Snapshot()

	gw.listErr = errBoom
	err := s.FetchNotifications(context.Background(), true)
	assert.ErrorIs(t, err, errBoom)

	after := s.Snapshot()
	assert.Equal(t, ids(before.Items), ids(after.Items))
	assert.Equal(t, before.HasMore, after.HasMore)
	assert.False(t, after.IsLoading)
}

func TestStore_FetchNotifications_SingleInFlight(t *testing.T) {
	gw := newFakeGateway()
	gw.blocking = true
	s := New(gw)

	done := make(chan error, 1)
	go func() { done <- s.FetchNotifications(context.Background(), false) }()

	call := <-gw.calls
	assert.True(t, s.Snapshot().IsLoading)

	// second call while the first is pending
	require.NoError(t, s.FetchNotifications(context.Background(), false))
	assert.Equal(t, 1, gw.listCallCount())

	call.reply <- listReply{page: notification.Page{Items: []notification.Notification{notif("n1", 1, false)}}}
	require.NoError(t, <-done)

	assert.Equal(t, 1, gw.listCallCount())
	assert.Equal(t, []string{"n1"}, ids(s.Snapshot().Items))
	assert.False(t, s.Snapshot().IsLoading)
}

func TestStore_FetchNotifications_StaleCompletionIgnored(t *testing.T) {
	gw := newFakeGateway()
	gw.blocking = true
	s := New(gw)
	ctx := context.Background()

	nextDone := make(chan error, 1)
	go func() { nextDone <- s.FetchNotifications(ctx, false) }()
	nextCall := <-gw.calls

	resetDone := make(chan error, 1)
	go func() { resetDone <- s.FetchNotifications(ctx, true) }()
	resetCall := <-gw.calls
	assert.Equal(t, "", resetCall.cursor)

	resetCall.reply <- listReply{page: notification.Page{Items: []notification.Notification{notif("fresh", 5, false)}}}
	require.NoError(t, <-resetDone)

	// the older request completes last and must not win
	nextCall.reply <- listReply{page: notification.Page{Items: []notification.Notification{notif("stale", 1, false)}, HasMore: true}}
	require.NoError(t, <-nextDone)

	snap := s.Snapshot()
	assert.Equal(t, []string{"fresh"}, ids(snap.Items))
	assert.False(t, snap.HasMore)
	assert.False(t, snap.IsLoading)
}

func TestStore_FetchNotifications_ResetKeepsPushDuringFetch(t *testing.T) {
	gw := newFakeGateway()
	gw.blocking = true
	s := New(gw)
	ctx := context.Background()

	// a push from before the reset is superseded by the fresh page
	s.AddNotification(notif("old-push", 1, false))

	done := make(chan error, 1)
	go func() { done <- s.FetchNotifications(ctx, true) }()
	call := <-gw.calls

	// pushed while the reset is in flight; newer than anything in the page
	s.AddNotification(notif("n9", 9, false))

	call.reply <- listReply{page: notification.Page{
		Items: []notification.Notification{notif("n5", 5, false), notif("n4", 4, false)},
	}}
	require.NoError(t, <-done)

	assert.Equal(t, []string{"n9", "n5", "n4"}, ids(s.Snapshot().Items))
}

func TestStore_FetchNotifications_PageAfterPushDedupes(t *testing.T) {
	gw := newFakeGateway()
	gw.blocking = true
	s := New(gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.FetchNotifications(ctx, false) }()
	call := <-gw.calls

	// the push races the page and the page also contains it
	s.AddNotification(notif("n3", 3, false))

	call.reply <- listReply{page: notification.Page{
		Items: []notification.Notification{notif("n3", 3, false), notif("n2", 2, false), notif("n1", 1, true)},
	}}
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(snap.Items))
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestStore_FetchUnreadCount(t *testing.T) {
	gw := newFakeGateway()
	gw.counts = []int{7}
	s := New(gw)

	require.NoError(t, s.FetchUnreadCount(context.Background()))
	assert.Equal(t, 7, s.UnreadCount())

	gw.countErr = errBoom
	assert.ErrorIs(t, s.FetchUnreadCount(context.Background()), errBoom)
	assert.Equal(t, 7, s.UnreadCount())
}

func TestStore_MarkAsRead_FloorAtZero(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw)

	require.NoError(t, s.MarkAsRead(context.Background(), "unknown"))
	require.NoError(t, s.MarkAsRead(context.Background(), "unknown"))
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStore_MarkAsRead_AlreadyReadIsNoop(t *testing.T) {
	gw := newFakeGateway()
	gw.counts = []int{2}
	s := New(gw)
	require.NoError(t, s.FetchUnreadCount(context.Background()))
	s.AddNotification(notif("n1", 1, true))

	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))
	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))

	assert.Equal(t, 2, s.UnreadCount())
	assert.Empty(t, gw.markCalls)
}

func TestStore_MarkAsRead_RepeatedCallsDecrementOnce(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw)
	s.AddNotification(notif("n1", 1, false))
	s.AddNotification(notif("n2", 2, false))

	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))
	require.NoError(t, s.MarkAsRead(context.Background(), "n1"))

	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, []string{"n1"}, gw.markCalls)
}

func TestStore_MarkAsRead_RollbackOnFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.markErr = errBoom
	s := New(gw)
	s.AddNotification(notif("n1", 1, false))

	err := s.MarkAsRead(context.Background(), "n1")
	assert.ErrorIs(t, err, errBoom)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.UnreadCount)
	assert.False(t, snap.Items[0].Read)
	assert.Nil(t, snap.Items[0].ReadAt)
}

func TestStore_MarkAsRead_RollbackKeepsRefreshedCount(t *testing.T) {
	gw := newFakeGateway()
	gw.page = notification.Page{Items: []notification.Notification{
		notif("n3", 3, false),
		notif("n2", 2, false),
		notif("n1", 1, false),
	}}
	gw.counts = []int{3}
	s := New(gw)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, true))
	require.NoError(t, s.FetchUnreadCount(ctx))

	// the poll answers while the mark request is in flight
	gw.markErr = errBoom
	gw.onMark = func() {
		assert.Equal(t, 2, s.UnreadCount())
		require.NoError(t, s.FetchUnreadCount(ctx))
	}
	assert.ErrorIs(t, s.MarkAsRead(ctx, "n3"), errBoom)

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.UnreadCount)
	assert.False(t, snap.Items[0].Read)
}

func TestStore_MarkAllAsRead(t *testing.T) {
	gw := newFakeGateway()
	gw.counts = []int{5}
	s := New(gw)
	require.NoError(t, s.FetchUnreadCount(context.Background()))
	s.AddNotification(notif("n1", 1, false))

	require.NoError(t, s.MarkAllAsRead(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, n := range snap.Items {
		assert.True(t, n.Read)
	}
	assert.Equal(t, 1, gw.markAll)
}

func TestStore_MarkAllAsRead_RollbackOnFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.page = notification.Page{Items: []notification.Notification{
		notif("n3", 3, false),
		notif("n2", 2, true),
		notif("n1", 1, false),
	}}
	gw.counts = []int{6}
	s := New(gw)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, true))
	require.NoError(t, s.FetchUnreadCount(ctx))
	before := s.Snapshot()

	gw.allErr = errBoom
	assert.ErrorIs(t, s.MarkAllAsRead(ctx), errBoom)

	after := s.Snapshot()
	assert.Equal(t, before.UnreadCount, after.UnreadCount)
	require.Len(t, after.Items, len(before.Items))
	for i := range before.Items {
		assert.Equal(t, before.Items[i].Read, after.Items[i].Read, before.Items[i].ID)
	}
}

func TestStore_MarkAllAsRead_RollbackKeepsRefreshedCount(t *testing.T) {
	gw := newFakeGateway()
	gw.page = notification.Page{Items: []notification.Notification{
		notif("n3", 3, false),
		notif("n2", 2, true),
		notif("n1", 1, false),
	}}
	gw.counts = []int{3}
	s := New(gw)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, true))
	require.NoError(t, s.FetchUnreadCount(ctx))

	gw.allErr = errBoom
	gw.onMark = func() {
		assert.Equal(t, 0, s.UnreadCount())
		require.NoError(t, s.FetchUnreadCount(ctx))
	}
	assert.ErrorIs(t, s.MarkAllAsRead(ctx), errBoom)

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.UnreadCount)
	assert.Equal(t, []bool{false, true, false}, []bool{snap.Items[0].Read, snap.Items[1].Read, snap.Items[2].Read})
}

func TestStore_Clear(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw)
	s.AddNotification(notif("n1", 1, false))

	s.Clear()

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)

	// the same ID may come back after a new login
	assert.True(t, s.AddNotification(notif("n1", 1, false)))
}

func TestStore_Subscribe(t *testing.T) {
	s := New(newFakeGateway())
	ch, cancel := s.Subscribe()
	defer cancel()

	s.AddNotification(notif("n1", 1, false))

	select {
	case snap := <-ch:
		assert.Equal(t, 1, snap.UnreadCount)
		assert.Equal(t, []string{"n1"}, ids(snap.Items))
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

// Count 3 from the server, one unread push, then reading it.
func TestStore_EndToEndScenario(t *testing.T) {
	gw := newFakeGateway()
	gw.counts = []int{3}
	s := New(gw)
	ctx := context.Background()

	require.NoError(t, s.FetchUnreadCount(ctx))
	assert.Equal(t, 3, s.UnreadCount())

	s.AddNotification(notif("n1", 1, false))
	assert.Equal(t, 4, s.UnreadCount())

	require.NoError(t, s.MarkAsRead(ctx, "n1"))
	snap := s.Snapshot()
	assert.Equal(t, 3, snap.UnreadCount)
	assert.True(t, snap.Items[0].Read)
}
