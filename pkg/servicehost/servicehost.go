// Package servicehost models the out-of-process clustered services as
// subscribers of the agent's notifications (JoinLog, TerminationPosition,
// snapshot/ack), and the inbound channel carrying service_ack/
// on_service_message back to the agent. Grounded on the publish/subscribe
// broker shape used elsewhere in this stack, narrowed to the fixed
// notification set of §6's "Service control" message group — hosting the
// actual deterministic state machine is a non-goal.
package servicehost

import "sync"

// NotificationType is one of the agent-to-service notifications of §6.
type NotificationType string

const (
	NotifyJoinLog            NotificationType = "JoinLog"
	NotifyTerminationPosition NotificationType = "TerminationPosition"
	NotifySnapshotTaken       NotificationType = "SnapshotTaken"
)

// Notification is broadcast to every subscribed service.
type Notification struct {
	Type        NotificationType
	LogPosition int64
	ServiceID   int32
}

// Subscriber is a buffered channel a service reads notifications from.
type Subscriber chan Notification

// InboundKind distinguishes the two messages a service can send back.
type InboundKind string

const (
	InboundServiceAck     InboundKind = "service_ack"
	InboundServiceMessage InboundKind = "on_service_message"
)

// Inbound is one message a hosted service sends to the agent.
type Inbound struct {
	Kind        InboundKind
	ServiceID   int32
	LogPosition int64 // for service_ack: the position being acknowledged
	Payload     []byte // for on_service_message: the command body
}

// Broker fans notifications out to every registered service and collects
// their inbound acks/messages onto a single channel the agent drains each
// tick.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int32]Subscriber
	inbound     chan Inbound
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int32]Subscriber),
		inbound:     make(chan Inbound, 256),
	}
}

// Register subscribes serviceID to future notifications, returning the
// channel it should read from.
func (b *Broker) Register(serviceID int32) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[serviceID] = sub
	return sub
}

// Unregister removes a service's subscription, e.g. once it has acked its
// TerminationPosition.
func (b *Broker) Unregister(serviceID int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[serviceID]; ok {
		delete(b.subscribers, serviceID)
		close(sub)
	}
}

// Notify broadcasts n to every registered service, dropping it for any
// subscriber whose buffer is full rather than blocking the agent tick.
func (b *Broker) Notify(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- n:
		default:
		}
	}
}

// NotifyService sends n to exactly one service, e.g. a targeted
// TerminationPosition.
func (b *Broker) NotifyService(serviceID int32, n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[serviceID]; ok {
		select {
		case sub <- n:
		default:
		}
	}
}

// Send delivers an inbound service_ack/on_service_message to the agent's
// drain channel; non-blocking, matching the broker's non-blocking publish
// convention.
func (b *Broker) Send(in Inbound) {
	select {
	case b.inbound <- in:
	default:
	}
}

// Inbound returns the channel the agent drains each tick for service_ack and
// on_service_message deliveries.
func (b *Broker) Inbound() <-chan Inbound { return b.inbound }

// SubscriberCount reports how many services are currently registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
