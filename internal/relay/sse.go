package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dbt-portal/dbtsync/internal/event"
)

// SSEHeartbeatInterval is how often an idle /events stream gets a comment
// line so proxies keep it open.
const SSEHeartbeatInterval = 30 * time.Second

var errNoFlusher = errors.New("response writer cannot stream")

// sseStream writes server-sent events and flushes after each one.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseStream{w: w, f: f}, nil
}

func (s *sseStream) send(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// events streams every update the relay accepts, one event per update named
// after its bus event type. Updates arriving faster than the client reads
// are dropped.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, ErrCodeInternalError, err.Error())
		return
	}

	updates := make(chan event.Event, 16)
	unsub := s.bus.SubscribeAll(func(e event.Event) {
		select {
		case updates <- e:
		default:
			s.log.Warn().Str("eventType", string(e.Type)).Msg("dropped update for slow events stream")
		}
	})
	defer unsub()

	w.WriteHeader(http.StatusOK)
	if err := stream.send("relay.connected", HealthResponse{Status: "ok", Clients: s.hub.ClientCount()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case e := <-updates:
			err = stream.send(string(e.Type), e.Data)
		case <-heartbeat.C:
			err = stream.ping()
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("events stream closed")
			return
		}
	}
}
