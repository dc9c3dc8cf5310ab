package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dbt-portal/dbtsync/internal/event"
)

// SSEEvent is one event read from the relay's /events stream.
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// ParseUpdate decodes the data of a notice-updated, content-updated or
// event-updated event.
func (e SSEEvent) ParseUpdate() (*event.UpdateData, error) {
	var data event.UpdateData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SSEClient follows the relay's /events stream.
type SSEClient struct {
	BaseURL string

	events chan SSEEvent
	cancel context.CancelFunc
}

// NewSSEClient creates a client for the relay at baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{BaseURL: baseURL, events: make(chan SSEEvent, 100)}
}

// Connect opens the stream at path and reads it in the background until
// Close. Heartbeat comments are skipped.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, c.cancel = context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("not an event stream: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	go func() {
		defer resp.Body.Close()
		defer close(c.events)

		var current SSEEvent
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if current.Type != "" {
					select {
					case c.events <- current:
					case <-ctx.Done():
						return
					}
				}
				current = SSEEvent{}
			case strings.HasPrefix(line, "event:"):
				current.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.Data = append(current.Data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
			}
		}
	}()
	return nil
}

// WaitForEvent returns the next event named eventType, discarding others.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return nil, errors.New("event stream closed")
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no %s event within %v", eventType, timeout)
		}
	}
}

// Close ends the stream.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
