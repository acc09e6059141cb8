// Package event defines the envelope carried over the push channel.
//
// An envelope is a tagged union: the Kind field selects exactly one
// payload shape, so subscribers can match on it exhaustively instead
// of duck-typing the payload. Envelopes are immutable values,
// constructed once per successful mutation and discarded after
// delivery; they are never persisted.
package event

import (
	"fmt"

	"github.com/lotwire/lotwire/internal/codec"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

// Kind tags the payload shape of an envelope.
type Kind string

const (
	KindEntityCreated Kind = "entity_created"
	KindEntityUpdated Kind = "entity_updated"
	KindEntityDeleted Kind = "entity_deleted"
	KindStatusChanged Kind = "status_changed"
	KindBulkUpdate    Kind = "bulk_update"

	// KindRequestInventoryUpdate is sent client -> server to request
	// an out-of-band refresh broadcast. It carries no payload.
	KindRequestInventoryUpdate Kind = "request_inventory_update"

	// Local pseudo-events emitted by the subscription manager to its
	// own subscribers. They never travel on the wire and carry Seq 0.
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindUnreachable  Kind = "unreachable"
)

// Deleted is the payload of an entity_deleted envelope: the bare
// identifier of the removed vehicle.
type Deleted struct {
	ID string `json:"id"`
}

// StatusChange is the payload of a status_changed envelope.
type StatusChange struct {
	ID        string         `json:"id"`
	NewStatus vehicle.Status `json:"newStatus"`
	Note      string         `json:"note,omitempty"`
}

// BulkUpdate is the payload of a bulk_update envelope: the full
// current snapshot, broadcast on request_inventory_update.
type BulkUpdate struct {
	Vehicles []vehicle.Vehicle `json:"vehicles"`
}

// Envelope is one logical push-channel message.
//
// Seq is assigned per connection by the channel server's write pump,
// strictly increasing from 1, so a client can detect dropped messages
// after a reconnect. Pseudo-events carry Seq 0.
type Envelope struct {
	Seq     uint64 `json:"seq,omitempty"`
	Kind    Kind   `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Created builds an entity_created envelope with the full snapshot.
func Created(v vehicle.Vehicle) Envelope {
	return Envelope{Kind: KindEntityCreated, Payload: v}
}

// Updated builds an entity_updated envelope with the full snapshot.
func Updated(v vehicle.Vehicle) Envelope {
	return Envelope{Kind: KindEntityUpdated, Payload: v}
}

// Removed builds an entity_deleted envelope carrying only the id.
func Removed(id string) Envelope {
	return Envelope{Kind: KindEntityDeleted, Payload: Deleted{ID: id}}
}

// StatusChanged builds a status_changed envelope.
func StatusChanged(id string, status vehicle.Status, note string) Envelope {
	return Envelope{Kind: KindStatusChanged, Payload: StatusChange{ID: id, NewStatus: status, Note: note}}
}

// Refreshed builds a bulk_update envelope carrying the snapshot.
func Refreshed(vehicles []vehicle.Vehicle) Envelope {
	return Envelope{Kind: KindBulkUpdate, Payload: BulkUpdate{Vehicles: vehicles}}
}

// Pseudo builds a local pseudo-event for the given kind.
func Pseudo(kind Kind) Envelope {
	return Envelope{Kind: kind}
}

// Vehicle returns the payload snapshot of an entity_created or
// entity_updated envelope.
func (e Envelope) Vehicle() (vehicle.Vehicle, bool) {
	v, ok := e.Payload.(vehicle.Vehicle)
	return v, ok
}

// Encode serializes the envelope with the given codec.
func Encode(m codec.Marshaler, env Envelope) ([]byte, error) {
	return m.Marshal(env)
}

// Decode parses one wire frame. The payload is decoded into the
// concrete type selected by the kind tag; unknown kinds are an error
// so that a version-skewed server cannot silently feed subscribers
// payloads they cannot match on.
func Decode(u codec.Unmarshaler, data []byte) (Envelope, error) {
	var head struct {
		Seq  uint64 `json:"seq"`
		Kind Kind   `json:"kind"`
	}
	if err := u.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("event: decoding envelope header: %w", err)
	}

	env := Envelope{Seq: head.Seq, Kind: head.Kind}

	switch head.Kind {
	case KindEntityCreated, KindEntityUpdated:
		var frame struct {
			Payload vehicle.Vehicle `json:"payload"`
		}
		if err := u.Unmarshal(data, &frame); err != nil {
			return Envelope{}, fmt.Errorf("event: decoding %s payload: %w", head.Kind, err)
		}
		env.Payload = frame.Payload
	case KindEntityDeleted:
		var frame struct {
			Payload Deleted `json:"payload"`
		}
		if err := u.Unmarshal(data, &frame); err != nil {
			return Envelope{}, fmt.Errorf("event: decoding %s payload: %w", head.Kind, err)
		}
		env.Payload = frame.Payload
	case KindStatusChanged:
		var frame struct {
			Payload StatusChange `json:"payload"`
		}
		if err := u.Unmarshal(data, &frame); err != nil {
			return Envelope{}, fmt.Errorf("event: decoding %s payload: %w", head.Kind, err)
		}
		env.Payload = frame.Payload
	case KindBulkUpdate:
		var frame struct {
			Payload BulkUpdate `json:"payload"`
		}
		if err := u.Unmarshal(data, &frame); err != nil {
			return Envelope{}, fmt.Errorf("event: decoding %s payload: %w", head.Kind, err)
		}
		env.Payload = frame.Payload
	case KindRequestInventoryUpdate:
		// No payload.
	default:
		return Envelope{}, fmt.Errorf("event: unknown envelope kind %q", head.Kind)
	}

	return env, nil
}
