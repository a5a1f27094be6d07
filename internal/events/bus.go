/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Custody pipeline events
	EventCustodyTransitioned EventType = "custody.transitioned"

	// Compliance events
	EventGatesEvaluated EventType = "compliance.gates_evaluated"
	EventMovementBlocked EventType = "compliance.movement_blocked"

	// Assignment events
	EventAssignmentApplied  EventType = "assignment.applied"
	EventAssignmentConflict EventType = "assignment.conflict"

	// Queue events
	EventQueueResequenced EventType = "queue.resequenced"

	// Reconciler events
	EventReconcileRequested EventType = "reconcile.requested"
	EventReconcileCorrected EventType = "reconcile.corrected"

	// Operator resource actions
	EventResourceAction EventType = "resource.action"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu        sync.RWMutex
	subs      map[EventType][]Subscriber
	forwarder func(EventType, Payload)
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// SetForwarder installs a hook invoked on every Publish, used to mirror
// events to an external broker. Must be set before the bus is in use.
func (b *Bus) SetForwarder(fn func(EventType, Payload)) {
	b.mu.Lock()
	b.forwarder = fn
	b.mu.Unlock()
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers and to the forwarder, if any.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	forwarder := b.forwarder
	b.mu.RUnlock()
	if forwarder != nil {
		forwarder(eventType, payload)
	}
	b.Inject(eventType, payload)
}

// Inject delivers a payload to local subscribers only, bypassing the
// forwarder. Used when replaying events received from a remote bridge.
func (b *Bus) Inject(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
