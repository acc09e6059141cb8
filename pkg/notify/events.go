package notify

import (
	"fmt"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/subscribe"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

// Bind subscribes the feed to every inventory and connection
// lifecycle event on m, translating envelopes into notifications.
// The returned function removes all of the registrations.
func Bind(m *subscribe.Manager, f *Feed) func() {
	unsubs := []func(){
		m.Subscribe(event.KindEntityCreated, func(env event.Envelope) {
			if v, ok := env.Vehicle(); ok {
				f.Push(fmt.Sprintf("%s added to inventory", describe(v)), KindSuccess, v)
			}
		}),
		m.Subscribe(event.KindEntityUpdated, func(env event.Envelope) {
			if v, ok := env.Vehicle(); ok {
				f.Push(fmt.Sprintf("%s updated", describe(v)), KindInfo, v)
			}
		}),
		m.Subscribe(event.KindEntityDeleted, func(env event.Envelope) {
			if del, ok := env.Payload.(event.Deleted); ok {
				f.Push("vehicle removed from inventory", KindWarning, del)
			}
		}),
		m.Subscribe(event.KindStatusChanged, func(env event.Envelope) {
			if change, ok := env.Payload.(event.StatusChange); ok {
				f.Push(fmt.Sprintf("vehicle marked %s", change.NewStatus), KindInfo, change)
			}
		}),
		m.Subscribe(event.KindBulkUpdate, func(env event.Envelope) {
			if bulk, ok := env.Payload.(event.BulkUpdate); ok {
				f.Push(fmt.Sprintf("inventory refreshed, %d vehicles", len(bulk.Vehicles)), KindInfo, nil)
			}
		}),
		m.Subscribe(event.KindConnected, func(env event.Envelope) {
			f.Push("live updates connected", KindSuccess, nil)
		}),
		m.Subscribe(event.KindDisconnected, func(env event.Envelope) {
			f.Push("live updates interrupted, reconnecting", KindWarning, nil)
		}),
		m.Subscribe(event.KindUnreachable, func(env event.Envelope) {
			f.Push("live updates unavailable", KindError, nil)
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func describe(v vehicle.Vehicle) string {
	return fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
}
