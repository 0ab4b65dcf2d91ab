package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkflow "github.com/petal-labs/checkflow"
)

func TestMemBus_SubscribeReceivesMatchingRun(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	b.Publish(checkflow.NewEvent(checkflow.EventRunStarted, "run-1"))
	b.Publish(checkflow.NewEvent(checkflow.EventRunStarted, "run-2"))

	select {
	case e := <-sub.Events():
		assert.Equal(t, "run-1", e.RunID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-sub.Events():
		t.Fatalf("received event for foreign run %q", e.RunID)
	default:
	}
}

func TestMemBus_SubscribeAllReceivesEverything(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.SubscribeAll()
	defer sub.Close()

	b.Publish(checkflow.NewEvent(checkflow.EventStepStarted, "run-1"))
	b.Publish(checkflow.NewEvent(checkflow.EventStepFinished, "run-2"))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.Events():
			got = append(got, e.RunID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []string{"run-1", "run-2"}, got)
}

func TestMemBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 1})
	defer b.Close()

	sub := b.SubscribeAll()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(checkflow.NewEvent(checkflow.EventStepStarted, "run-1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestMemBus_CloseClosesSubscriptions(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	sub := b.SubscribeAll()

	require.NoError(t, b.Close())

	_, open := <-sub.Events()
	assert.False(t, open, "subscription channel should be closed")

	// Publishing after close is a silent no-op.
	b.Publish(checkflow.NewEvent(checkflow.EventRunStarted, "run-1"))
}
