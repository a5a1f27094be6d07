/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS so that
// additional instances and external observers see the same domain events.
package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/brimir_terminal/internal/events"
)

const subjectPrefix = "brimir.events."

// Bridge mirrors local bus publishes onto NATS and replays remote
// publishes into the local bus. Local delivery never depends on NATS
// availability.
type Bridge struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger
}

// envelope is the wire format for bridged events.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// Connect dials NATS and attaches the bridge to bus. The returned Bridge
// must be closed on shutdown.
func Connect(url string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	b := &Bridge{
		conn:   conn,
		bus:    bus,
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}

	sub, err := conn.Subscribe(subjectPrefix+">", b.handleRemote)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe nats: %w", err)
	}
	b.sub = sub

	bus.SetForwarder(b.forward)

	b.logger.Info().Str("url", url).Msg("NATS event bridge connected")
	return b, nil
}

func (b *Bridge) forward(eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    b.nodeID,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal bridged event")
		return
	}

	if err := b.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		// Local subscribers already received the event; the mirror is best effort.
		b.logger.Warn().Err(err).Str("event", string(eventType)).Msg("publish bridged event")
	}
}

func (b *Bridge) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed bridged event")
		return
	}

	// Skip our own mirrored publishes.
	if env.NodeID == b.nodeID {
		return
	}

	eventType := events.EventType(strings.TrimPrefix(msg.Subject, subjectPrefix))
	b.bus.Inject(eventType, env.Payload)
}

// Close detaches the bridge and drops the NATS connection.
func (b *Bridge) Close() error {
	b.bus.SetForwarder(nil)
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("unsubscribe nats")
		}
	}
	b.conn.Close()
	return nil
}
