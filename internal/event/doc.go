/*
Package event provides the in-process update bus that decouples producers of
"data changed" facts from the views that must reload.

Producers are the content repositories (local admin edits) and the sync client
(broadcasts and snapshots received from the server). Consumers are views and
the CLI watch loop.

# Event Types

Collection events, each carrying UpdateData:
  - notice-updated: the notices collection changed
  - content-updated: the awareness collection changed
  - event-updated: the community events collection changed

Connection events, carrying ConnectionData:
  - connection-changed: the sync client changed state (DISCONNECTED, CONNECTING,
    CONNECTED, GIVEN_UP)

# Delivery

Publish calls every handler synchronously, in registration order, before it
returns. A handler that panics is logged and skipped; its siblings still run.
Handlers must be removed with the function returned by Subscribe when the view
that registered them goes away.

	unsubscribe := bus.Subscribe(event.NoticeUpdated, func(e event.Event) {
		data := e.Data.(event.UpdateData)
		render(data.Records)
	})
	defer unsubscribe()

# Streams

Every event is also mirrored onto a watermill gochannel topic named after the
event type. Stream returns the message channel for one topic; messages carry
the JSON encoding of the Event and must be acked. Streams are lossy when
nobody is subscribed.

A Bus has no global instance. The portal service constructs one and passes it
to everything that needs it.
*/
package event
