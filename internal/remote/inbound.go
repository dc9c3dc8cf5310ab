package remote

import (
	"context"

	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

// apply handles one decoded message from the server, in arrival order.
func (c *Client) apply(msg types.Message) {
	ctx := context.Background()

	switch m := msg.(type) {
	case *types.DataSync:
		c.applySnapshot(ctx, m)

	case *types.Update:
		if m.Channel != m.Collection.FanoutEvent() {
			c.log.Debug().Str("event", string(m.Channel)).Msg("ignoring non fan-out update")
			return
		}
		c.applyUpdate(ctx, m)

	case *types.RegistrationConfirmed:
		c.mu.Lock()
		c.connectionID = m.ConnectionID
		c.mu.Unlock()
		c.log.Info().
			Str("user", m.UserID).
			Str("connection", m.ConnectionID).
			Msg("registration confirmed")

	default:
		c.log.Debug().Str("event", string(msg.EventName())).Msg("ignoring client-bound message")
	}
}

// applyUpdate overwrites the collection when the broadcast carries it in
// full. A broadcast with only the single record leaves the cache alone; the
// event is published either way.
func (c *Client) applyUpdate(ctx context.Context, u *types.Update) {
	data := event.UpdateData{
		Collection: u.Collection,
		Mutation:   u.Type,
		Record:     u.Record,
		Source:     event.SourceRemote,
	}

	if u.All != nil {
		stored, err := c.repo.Replace(ctx, u.Collection, u.All)
		if err != nil {
			c.log.Warn().Err(err).Str("collection", string(u.Collection)).Msg("failed to store broadcast")
			return
		}
		data.Records = stored
	}

	c.log.Debug().
		Str("collection", string(u.Collection)).
		Str("type", string(u.Type)).
		Str("admin", u.AdminUser).
		Bool("full", u.All != nil).
		Msg("applied broadcast")

	c.bus.Publish(event.Event{Type: event.ForCollection(u.Collection), Data: data})
}

// applySnapshot overwrites every collection present in d, then publishes
// DATA_SYNC once for each of the three collections.
func (c *Client) applySnapshot(ctx context.Context, d *types.DataSync) {
	updates := make([]event.UpdateData, 0, 3)
	for _, col := range types.Collections() {
		data := event.UpdateData{
			Collection: col,
			Mutation:   types.MutationDataSync,
			Source:     event.SourceRemote,
		}
		if records, ok := d.Collection(col); ok {
			stored, err := c.repo.Replace(ctx, col, records)
			if err != nil {
				c.log.Warn().Err(err).Str("collection", string(col)).Msg("failed to store snapshot")
			} else {
				data.Records = stored
			}
		}
		updates = append(updates, data)
	}

	c.log.Info().
		Int("notices", len(d.Notices)).
		Int("awareness", len(d.Awareness)).
		Int("events", len(d.Events)).
		Msg("applied data sync")

	for _, data := range updates {
		c.bus.Publish(event.Event{Type: event.ForCollection(data.Collection), Data: data})
	}
}
