package relay

import (
	"net/http"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

// setupRoutes configures all relay routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/ws", s.hub.serveWS)
	r.Get("/health", s.health)
	r.Get("/snapshot", s.getSnapshot)
	r.Get("/events", s.events)
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Clients: s.hub.ClientCount()})
}

// getSnapshot returns the relay's collections, or only the one named by the
// collection query parameter.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.hub.Snapshot()

	name := r.URL.Query().Get("collection")
	if name == "" {
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	c, err := types.ParseCollection(name)
	if err != nil {
		writeError(w, ErrCodeInvalidRequest, err.Error())
		return
	}
	records, ok := snapshot.Collection(c)
	if !ok {
		writeError(w, ErrCodeNotFound, "collection not received yet")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
