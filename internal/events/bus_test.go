package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventAudit, 4)
	b.Publish(EventAudit, "hello")

	select {
	case v := <-ch:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsub()
	unsub()
	require.Equal(t, 0, b.Subscribers(EventAudit))
	_, ok := <-ch
	require.False(t, ok)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderUpdate, 1)
	defer unsub()

	b.Publish(EventOrderUpdate, 1)
	b.Publish(EventOrderUpdate, 2)

	require.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %v", v)
	default:
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(EventRiskHalt, 1)
	b.Close()
	_, ok := <-ch
	require.False(t, ok)

	late, _ := b.Subscribe(EventRiskHalt, 1)
	_, ok = <-late
	require.False(t, ok)
	b.Publish(EventRiskHalt, "ignored")
}
