package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintas/internal/counting"
)

func TestSubscribeReceivesAllKinds(t *testing.T) {
	t.Parallel()

	b := New()
	var got []Kind
	unsub := b.Subscribe(HandlerFunc(func(e *Event) {
		got = append(got, e.Kind)
	}))
	defer unsub()

	b.Publish(NewFrameEvent(1, []byte("jpeg")))
	b.Publish(NewCountsEvent(counting.NewCounts(nil), nil))
	b.Publish(NewStatusEvent("running", ""))

	assert.Equal(t, []Kind{KindFrame, KindCounts, KindStatus}, got)
}

func TestSubscribeKindFilters(t *testing.T) {
	t.Parallel()

	b := New()
	var frames int
	unsub := b.SubscribeKind(KindFrame, HandlerFunc(func(e *Event) {
		frames++
	}))
	defer unsub()

	b.Publish(NewFrameEvent(1, []byte("jpeg")))
	b.Publish(NewStatusEvent("running", ""))
	b.Publish(NewFrameEvent(2, []byte("jpeg")))

	assert.Equal(t, 2, frames)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	var calls int
	unsub := b.Subscribe(HandlerFunc(func(e *Event) { calls++ }))

	b.Publish(NewStatusEvent("running", ""))
	unsub()
	b.Publish(NewStatusEvent("stopped", ""))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.SubscribeKindChannel(KindFrame, 2)
	defer unsub()

	// Publishing past the buffer must not block.
	for i := 0; i < 5; i++ {
		b.Publish(NewFrameEvent(i, []byte("jpeg")))
	}

	first := <-ch
	second := <-ch
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 1, second.Seq)
	select {
	case e := <-ch:
		t.Fatalf("expected empty channel, got seq %d", e.Seq)
	default:
	}
}

func TestCloseClosesChannels(t *testing.T) {
	t.Parallel()

	b := New()
	ch, _ := b.SubscribeChannel(1)
	b.Close()

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.SubscribeChannel(1)
	unsub()
	unsub()
}
