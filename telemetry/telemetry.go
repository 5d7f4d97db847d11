// Package telemetry publishes scheduler observability events - spawn
// outcomes, breaker transitions, pressure changes - to an external NATS
// Streaming channel, the way Sandwich-Producer's Manager.produceChannel /
// SessionProvider.Receive piped marshalled events to STAN. The scheduler
// itself never blocks on this: telemetry is best-effort and optional.
package telemetry

import (
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
)

// EventType names the kind of telemetry event published.
type EventType string

// Valid EventType values.
const (
	SpawnSucceeded     EventType = "spawn_succeeded"
	SpawnFailed        EventType = "spawn_failed"
	Despawned          EventType = "despawned"
	BreakerTransition  EventType = "breaker_transition"
	PressureChanged    EventType = "pressure_changed"
	SnapshotPublished  EventType = "snapshot_published"
)

// Event is the wire-format payload published for every telemetry event,
// msgpack-encoded exactly as the teacher's StreamEvent is before
// sc.Publish. The QueueSize/ThrottleRate/Phase/BreakerState fields are only
// populated on a SnapshotPublished event - the periodic graceful-
// degradation publish described in SPEC_FULL.md's telemetry clause.
type Event struct {
	Type          EventType `msgpack:"type"`
	TimestampMs   int64     `msgpack:"ts_ms"`
	CharacterGuid uint64    `msgpack:"character_guid,omitempty"`
	ZoneID        uint32    `msgpack:"zone_id,omitempty"`
	Reason        string    `msgpack:"reason,omitempty"`
	Detail        string    `msgpack:"detail,omitempty"`

	QueueSize    int     `msgpack:"queue_size,omitempty"`
	ThrottleRate float64 `msgpack:"throttle_rate,omitempty"`
	Phase        string  `msgpack:"phase,omitempty"`
	BreakerState string  `msgpack:"breaker_state,omitempty"`
}

// Publisher wraps a NATS connection plus a STAN client the way
// gateway.Manager holds NatsClient/StanClient. A nil Publisher (or one
// built over a connection that failed to dial) is safe to call Publish on
// - failures are logged and swallowed, since telemetry must never affect
// scheduler correctness.
type Publisher struct {
	nc      *nats.Conn
	sc      stan.Conn
	channel string
	log     zerolog.Logger
}

// Connect dials NATS + STAN and returns a Publisher. If dialing fails, a
// degraded Publisher is returned whose Publish calls are no-ops; the error
// is returned for the caller to log, but is not fatal to scheduler startup.
func Connect(natsAddress, clusterID, clientID, channel string, log zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsAddress)
	if err != nil {
		return &Publisher{log: log}, err
	}

	sc, err := stan.Connect(clusterID, clientID, stan.NatsConn(nc))
	if err != nil {
		return &Publisher{log: log}, err
	}

	return &Publisher{nc: nc, sc: sc, channel: channel, log: log}, nil
}

// Publish marshals ev via msgpack and publishes it to the configured STAN
// channel. Errors are logged and swallowed.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.sc == nil {
		return
	}

	payload, err := msgpack.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to marshal telemetry event")
		return
	}

	if err := p.sc.Publish(p.channel, payload); err != nil {
		p.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish telemetry event")
	}
}

// Close tears down the STAN and NATS connections, if any.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.sc != nil {
		_ = p.sc.Close()
	}
	if p.nc != nil {
		p.nc.Close()
	}
}
