package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_DeliveryOrder(t *testing.T) {
	bus := New()

	var order []string
	bus.SubscribeStatusChange(func(StatusChangePayload) { order = append(order, "first") })
	bus.SubscribeStatusChange(func(StatusChangePayload) { order = append(order, "second") })
	bus.SubscribeStatusChange(func(StatusChangePayload) { order = append(order, "third") })

	bus.PublishStatusChange(StatusChangePayload{SessionID: "work"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEventBus_SynchronousDelivery(t *testing.T) {
	bus := New()

	var got *PendingApprovalPayload
	bus.SubscribePendingApproval(func(p PendingApprovalPayload) { got = &p })

	bus.PublishPendingApproval(PendingApprovalPayload{
		SessionID: "work",
		Tools:     []string{"Bash"},
	})

	// Publish returns only after delivery completed.
	require.NotNil(t, got)
	assert.Equal(t, "work", got.SessionID)
	assert.Equal(t, []string{"Bash"}, got.Tools)
}

func TestEventBus_PanicIsolation(t *testing.T) {
	bus := New()

	delivered := false
	bus.SubscribeWatcherError(func(WatcherErrorPayload) { panic("boom") })
	bus.SubscribeWatcherError(func(WatcherErrorPayload) { delivered = true })

	require.NotPanics(t, func() {
		bus.PublishWatcherError(WatcherErrorPayload{Err: errors.New("inotify dead")})
	})
	assert.True(t, delivered, "subscriber after the panicking one still runs")
}

func TestEventBus_EventsAreIndependent(t *testing.T) {
	bus := New()

	calls := 0
	bus.SubscribeCompaction(func(CompactionPayload) { calls++ })

	bus.PublishStatusChange(StatusChangePayload{})
	bus.PublishSessionCompleted(SessionCompletedPayload{})
	assert.Zero(t, calls)

	bus.PublishCompaction(CompactionPayload{Summary: "trimmed"})
	assert.Equal(t, 1, calls)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := New()
	assert.NotPanics(t, func() {
		bus.PublishConversationUpdate(ConversationUpdatePayload{SessionID: "idle"})
	})
}
