package servicehost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyBroadcastsToAllSubscribers(t *testing.T) {
	b := NewBroker()
	sub1 := b.Register(1)
	sub2 := b.Register(2)

	b.Notify(Notification{Type: NotifyTerminationPosition, LogPosition: 100})

	select {
	case n := <-sub1:
		assert.Equal(t, int64(100), n.LogPosition)
	default:
		t.Fatal("expected notification on sub1")
	}
	select {
	case n := <-sub2:
		assert.Equal(t, int64(100), n.LogPosition)
	default:
		t.Fatal("expected notification on sub2")
	}
}

func TestNotifyServiceTargetsOneSubscriber(t *testing.T) {
	b := NewBroker()
	sub1 := b.Register(1)
	sub2 := b.Register(2)

	b.NotifyService(1, Notification{Type: NotifySnapshotTaken})

	select {
	case <-sub1:
	default:
		t.Fatal("expected notification on sub1")
	}
	select {
	case <-sub2:
		t.Fatal("sub2 should not receive a targeted notification")
	default:
	}
}

func TestUnregisterClosesSubscriberChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Register(1)
	b.Unregister(1)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSendAndInbound(t *testing.T) {
	b := NewBroker()
	b.Send(Inbound{Kind: InboundServiceAck, ServiceID: 1, LogPosition: 5})

	select {
	case in := <-b.Inbound():
		require.Equal(t, InboundServiceAck, in.Kind)
		assert.Equal(t, int32(1), in.ServiceID)
	default:
		t.Fatal("expected inbound message")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker()
	assert.Equal(t, 0, b.SubscriberCount())
	b.Register(1)
	b.Register(2)
	assert.Equal(t, 2, b.SubscriberCount())
}
