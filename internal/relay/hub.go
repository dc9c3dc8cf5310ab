package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 64
)

// Hub tracks connected clients and the last collections it has seen.
type Hub struct {
	bus *event.Bus
	log zerolog.Logger

	mu       sync.RWMutex
	clients  map[string]*client
	snapshot types.DataSync
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan types.Frame

	mu       sync.Mutex
	identity *types.Identity
	closed   bool
}

func newHub(bus *event.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		log:     log,
		clients: make(map[string]*client),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Snapshot returns a copy of the collections the relay holds. Collections it
// has never seen are nil.
func (h *Hub) Snapshot() types.DataSync {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return types.DataSync{
		Notices:   cloneRecords(h.snapshot.Notices),
		Awareness: cloneRecords(h.snapshot.Awareness),
		Events:    cloneRecords(h.snapshot.Events),
	}
}

// SetCollection replaces one collection of the snapshot.
func (h *Hub) SetCollection(c types.Collection, records []types.ContentRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.Set(c, cloneRecords(records))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the request and runs the client until it disconnects.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   ulid.Make().String(),
		conn: conn,
		send: make(chan types.Frame, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("connection", c.id).Str("remote", r.RemoteAddr).Int("clients", count).Msg("client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame types.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("connection", c.id).Msg("read failed")
			}
			return
		}

		msg, err := types.Decode(frame)
		if err != nil {
			h.log.Warn().Err(err).Str("connection", c.id).Str("event", string(frame.Event)).Msg("invalid frame dropped")
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.log.Info().Str("connection", c.id).Int("clients", count).Msg("client disconnected")
}

func (h *Hub) handle(c *client, msg types.Message) {
	switch m := msg.(type) {
	case *types.Register:
		identity := m.Identity
		c.mu.Lock()
		c.identity = &identity
		c.mu.Unlock()
		h.log.Info().Str("connection", c.id).Str("user", identity.UserID).Str("role", identity.Role).Msg("user registered")
		h.reply(c, &types.RegistrationConfirmed{UserID: identity.UserID, ConnectionID: c.id})

	case *types.RequestData:
		snapshot := h.Snapshot()
		h.reply(c, &snapshot)

	case *types.Update:
		if m.Channel != m.Collection.AdminEvent() {
			h.log.Warn().Str("connection", c.id).Str("event", string(m.Channel)).Msg("clients may not send fan-out events")
			return
		}
		h.fanOut(c, m)

	default:
		h.log.Warn().Str("connection", c.id).Str("event", string(msg.EventName())).Msg("unexpected message from client")
	}
}

// fanOut records the collection when the update carries it in full and
// forwards the update to every other client.
func (h *Hub) fanOut(from *client, u *types.Update) {
	if u.All != nil {
		h.SetCollection(u.Collection, u.All)
	}

	frame, err := types.Encode(&types.Update{Channel: u.Collection.FanoutEvent(), Mutation: u.Mutation})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode fan-out")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != from.id {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}

	h.log.Info().
		Str("from", from.id).
		Str("collection", string(u.Collection)).
		Str("type", string(u.Type)).
		Int("recipients", len(targets)).
		Msg("fanned out update")

	if h.bus != nil {
		h.bus.Publish(event.Event{
			Type: event.ForCollection(u.Collection),
			Data: event.UpdateData{
				Collection: u.Collection,
				Mutation:   u.Type,
				Record:     u.Record,
				Records:    u.All,
				Source:     event.SourceRemote,
			},
		})
	}
}

func (h *Hub) reply(c *client, msg types.Message) {
	frame, err := types.Encode(msg)
	if err != nil {
		h.log.Warn().Err(err).Str("event", string(msg.EventName())).Msg("failed to encode reply")
		return
	}
	h.deliver(c, frame)
}

// deliver queues frame for c. A client whose queue is full is disconnected.
func (h *Hub) deliver(c *client, frame types.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn().Str("connection", c.id).Msg("client too slow, disconnecting")
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func cloneRecords(records []types.ContentRecord) []types.ContentRecord {
	if records == nil {
		return nil
	}
	out := make([]types.ContentRecord, len(records))
	copy(out, records)
	return out
}
