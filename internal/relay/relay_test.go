package relay

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

func newTestRelay(t *testing.T, snapshot types.DataSync) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(&Config{EnableCORS: true}, snapshot)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.hub.closeAll()
		ts.Close()
		srv.bus.Close()
	})
	return srv, ts
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

// register announces userID and waits for the confirmation, so the relay is
// known to have the client in its hub afterwards.
func (c *testClient) register(userID, role string) *types.RegistrationConfirmed {
	c.send(&types.Register{Identity: types.Identity{UserID: userID, Role: role}})
	msg := c.read()
	confirmed, ok := msg.(*types.RegistrationConfirmed)
	require.True(c.t, ok, "expected registration_confirmed, got %T", msg)
	return confirmed
}

func (c *testClient) send(msg types.Message) {
	c.t.Helper()
	frame, err := types.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

func (c *testClient) read() types.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame types.Frame
	require.NoError(c.t, c.conn.ReadJSON(&frame))
	msg, err := types.Decode(frame)
	require.NoError(c.t, err)
	return msg
}

// expectSilence asserts that nothing arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var frame types.Frame
	err := c.conn.ReadJSON(&frame)
	assert.Error(c.t, err, "unexpected frame %s", frame.Event)
}

func TestHealth(t *testing.T) {
	srv, ts := newTestRelay(t, types.DataSync{})
	dial(t, ts).register("u1", "citizen")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
}

func TestSnapshotEndpoint(t *testing.T) {
	notices := []types.ContentRecord{{ID: 1, Kind: types.KindNotice, Payload: types.Payload{Title: "Camp"}, IsActive: true}}
	srv, _ := newTestRelay(t, types.DataSync{Notices: notices})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/snapshot", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot types.DataSync
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snapshot))
	assert.Equal(t, notices, snapshot.Notices)
	assert.Nil(t, snapshot.Awareness)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/snapshot?collection=notices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var records []types.ContentRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	assert.Equal(t, notices, records)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/snapshot?collection=events", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/snapshot?collection=quiz", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, ErrCodeInvalidRequest, errResp.Error.Code)
}

func TestRegister(t *testing.T) {
	_, ts := newTestRelay(t, types.DataSync{})
	a := dial(t, ts)
	b := dial(t, ts)

	ca := a.register("u1", "citizen")
	cb := b.register("u2", "admin")

	assert.Equal(t, "u1", ca.UserID)
	assert.Len(t, ca.ConnectionID, 26)
	assert.NotEqual(t, ca.ConnectionID, cb.ConnectionID)
}

func TestRequestData(t *testing.T) {
	events := []types.ContentRecord{{ID: 3, Kind: types.KindEvent, Payload: types.Payload{Title: "Seeding camp"}}}
	_, ts := newTestRelay(t, types.DataSync{Events: events, Notices: []types.ContentRecord{}})
	c := dial(t, ts)

	c.send(&types.RequestData{})
	msg := c.read()

	sync, ok := msg.(*types.DataSync)
	require.True(t, ok)
	assert.Equal(t, events, sync.Events)
	assert.NotNil(t, sync.Notices)
	assert.Empty(t, sync.Notices)
	_, present := sync.Collection(types.CollectionAwareness)
	assert.False(t, present)
}

func TestFanOut(t *testing.T) {
	srv, ts := newTestRelay(t, types.DataSync{})
	admin := dial(t, ts)
	first := dial(t, ts)
	second := dial(t, ts)
	admin.register("admin", "admin")
	first.register("u1", "citizen")
	second.register("u2", "citizen")

	rec := types.ContentRecord{ID: 10, Kind: types.KindNotice, Payload: types.Payload{Title: "Camp on Feb 15"}, IsActive: true}
	admin.send(&types.Update{
		Channel: types.EventAdminNoticeUpdate,
		Mutation: types.Mutation{
			Collection: types.CollectionNotices,
			Type:       types.MutationCreated,
			Record:     &rec,
			All:        []types.ContentRecord{rec},
			Timestamp:  1700000000000,
			AdminUser:  "admin",
		},
	})

	for _, c := range []*testClient{first, second} {
		msg := c.read()
		update, ok := msg.(*types.Update)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, types.EventNoticeUpdate, update.Channel)
		assert.Equal(t, types.MutationCreated, update.Type)
		assert.Equal(t, []types.ContentRecord{rec}, update.All)
		assert.Equal(t, "admin", update.AdminUser)
	}
	admin.expectSilence()

	assert.Equal(t, []types.ContentRecord{rec}, srv.Hub().Snapshot().Notices)
}

func TestFanOut_ContentChannelSplitsByCollection(t *testing.T) {
	_, ts := newTestRelay(t, types.DataSync{})
	admin := dial(t, ts)
	citizen := dial(t, ts)
	admin.register("admin", "admin")
	citizen.register("u1", "citizen")

	admin.send(&types.Update{
		Channel:  types.EventAdminContentUpdate,
		Mutation: types.Mutation{Collection: types.CollectionEvents, Type: types.MutationDeleted, All: []types.ContentRecord{}},
	})
	update := citizen.read().(*types.Update)
	assert.Equal(t, types.EventEventUpdate, update.Channel)
	assert.Equal(t, types.CollectionEvents, update.Collection)

	admin.send(&types.Update{
		Channel:  types.EventAdminContentUpdate,
		Mutation: types.Mutation{Collection: types.CollectionAwareness, Type: types.MutationUpdated, All: []types.ContentRecord{{ID: 1}}},
	})
	update = citizen.read().(*types.Update)
	assert.Equal(t, types.EventContentUpdate, update.Channel)
}

func TestRecordOnlyUpdateKeepsSnapshot(t *testing.T) {
	notices := []types.ContentRecord{{ID: 1, Kind: types.KindNotice}}
	srv, ts := newTestRelay(t, types.DataSync{Notices: notices})
	admin := dial(t, ts)
	citizen := dial(t, ts)
	admin.register("admin", "admin")
	citizen.register("u1", "citizen")

	admin.send(&types.Update{
		Channel:  types.EventAdminNoticeUpdate,
		Mutation: types.Mutation{Collection: types.CollectionNotices, Type: types.MutationDeleted, Record: &types.ContentRecord{ID: 1}},
	})
	citizen.read()

	assert.Equal(t, notices, srv.Hub().Snapshot().Notices)
}

func TestClientsCannotSendFanOutEvents(t *testing.T) {
	_, ts := newTestRelay(t, types.DataSync{})
	a := dial(t, ts)
	b := dial(t, ts)
	a.register("u1", "citizen")
	b.register("u2", "citizen")

	a.send(&types.Update{
		Channel:  types.EventNoticeUpdate,
		Mutation: types.Mutation{Collection: types.CollectionNotices, Type: types.MutationCreated, All: []types.ContentRecord{}},
	})
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"quiz","data":{}}`)))

	b.expectSilence()

	// The sender stays connected.
	a.send(&types.RequestData{})
	_, ok := a.read().(*types.DataSync)
	assert.True(t, ok)
}

func TestDisconnectUnregisters(t *testing.T) {
	srv, ts := newTestRelay(t, types.DataSync{})
	c := dial(t, ts)
	c.register("u1", "citizen")
	require.Equal(t, 1, srv.Hub().ClientCount())

	c.conn.Close()

	assert.Eventually(t, func() bool { return srv.Hub().ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsStream(t *testing.T) {
	_, ts := newTestRelay(t, types.DataSync{})

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(want string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", want)
				if line == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}
	waitFor("event: relay.connected")

	admin := dial(t, ts)
	admin.register("admin", "admin")
	admin.send(&types.Update{
		Channel:  types.EventAdminContentUpdate,
		Mutation: types.Mutation{Collection: types.CollectionEvents, Type: types.MutationCreated, All: []types.ContentRecord{{ID: 1}}},
	})

	waitFor("event: event-updated")
}

func TestShutdownDisconnectsClients(t *testing.T) {
	srv, ts := newTestRelay(t, types.DataSync{})
	c := dial(t, ts)
	c.register("u1", "citizen")

	srv.hub.closeAll()

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err)
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

type plainWriter struct{ header http.Header }

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(int)             {}

func TestSSEStream(t *testing.T) {
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	stream, err := newSSEStream(rec)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.NoError(t, stream.send("notice-updated", map[string]string{"collection": "notices"}))
	require.NoError(t, stream.ping())

	body := rec.Body.String()
	assert.Contains(t, body, "event: notice-updated\ndata: {\"collection\":\"notices\"}\n\n")
	assert.Contains(t, body, ": heartbeat\n\n")
	assert.Equal(t, 2, rec.flushes)

	_, err = newSSEStream(&plainWriter{header: http.Header{}})
	assert.ErrorIs(t, err, errNoFlusher)
}
