package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/internal/portal"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// TempDir creates a temporary directory
type TempDir struct {
	Path string
}

// NewTempDir creates a temp directory
func NewTempDir() (*TempDir, error) {
	path, err := os.MkdirTemp("", "dbtsync-test-*")
	if err != nil {
		return nil, err
	}
	return &TempDir{Path: path}, nil
}

// Cleanup removes the temp directory and all contents
func (d *TempDir) Cleanup() {
	os.RemoveAll(d.Path)
}

// ---- Portal Clients ----

// PortalClient is a portal service with its own cache directory and a
// recorder of every bus event.
type PortalClient struct {
	*portal.Service
	Dir      *TempDir
	Recorder *Recorder
}

// NewPortalClient creates a portal client for the relay at baseURL with
// empty seed collections and a short retry schedule.
func NewPortalClient(baseURL string, identity types.Identity) (*PortalClient, error) {
	dir, err := NewTempDir()
	if err != nil {
		return nil, err
	}

	auto := true
	cfg := &types.Config{
		ServerURL: baseURL,
		DataDir:   dir.Path,
		Identity:  &identity,
		Sync: &types.SyncConfig{
			ConnectTimeout:       types.Duration(2 * time.Second),
			ReconnectDelay:       types.Duration(20 * time.Millisecond),
			MaxReconnectAttempts: 3,
			AutoReconnect:        &auto,
		},
	}
	seeds := content.WithSeeds(map[types.Collection][]types.ContentRecord{})
	svc, err := portal.New(context.Background(), cfg, portal.WithRepositoryOptions(seeds))
	if err != nil {
		dir.Cleanup()
		return nil, err
	}

	rec := &Recorder{}
	svc.Bus().SubscribeAll(rec.record)
	return &PortalClient{Service: svc, Dir: dir, Recorder: rec}, nil
}

// Close stops the service and removes its cache directory.
func (p *PortalClient) Close() {
	p.Stop()
	p.Dir.Cleanup()
}

// Titles returns the titles of the active records of c.
func (p *PortalClient) Titles(c types.Collection) []string {
	records := p.Active(context.Background(), c)
	titles := make([]string, 0, len(records))
	for _, rec := range records {
		titles = append(titles, rec.Title)
	}
	return titles
}

// ---- Assertion Matchers ----

// Recorder keeps every event published on a bus.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *Recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Updates returns the update events for c, oldest first.
func (r *Recorder) Updates(c types.Collection) []event.UpdateData {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.UpdateData
	for _, e := range r.events {
		if data, ok := e.Data.(event.UpdateData); ok && data.Collection == c {
			out = append(out, data)
		}
	}
	return out
}

// States returns the connection states seen, oldest first.
func (r *Recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if data, ok := e.Data.(event.ConnectionData); ok {
			out = append(out, data.State)
		}
	}
	return out
}
