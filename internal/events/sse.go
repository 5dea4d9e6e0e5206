package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges a typed subscription onto a channel, which is
// what the SSE endpoint's select loop consumes. A full channel drops the
// event rather than blocking the dispatcher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
