package testutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/joho/godotenv"

	"github.com/dbt-portal/dbtsync/internal/relay"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

// TestRelay wraps a relay instance listening on a free local port.
type TestRelay struct {
	Server  *relay.Server
	BaseURL string
	port    int
	done    chan error
}

// TestRelayOption configures TestRelay
type TestRelayOption func(*testRelayConfig)

type testRelayConfig struct {
	snapshot types.DataSync
	envFile  string
	port     int
}

// WithPort listens on a fixed port, for example to restart a stopped relay.
func WithPort(port int) TestRelayOption {
	return func(c *testRelayConfig) {
		c.port = port
	}
}

// WithSnapshot preloads the relay's collections.
func WithSnapshot(snapshot types.DataSync) TestRelayOption {
	return func(c *testRelayConfig) {
		c.snapshot = snapshot
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestRelayOption {
	return func(c *testRelayConfig) {
		c.envFile = path
	}
}

// StartTestRelay creates and starts a relay
func StartTestRelay(opts ...TestRelayOption) (*TestRelay, error) {
	cfg := &testRelayConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
	}

	port := cfg.port
	if port == 0 {
		var err error
		port, err = findAvailablePort()
		if err != nil {
			return nil, fmt.Errorf("failed to find available port: %w", err)
		}
	}

	relayConfig := relay.DefaultConfig()
	relayConfig.Port = port
	srv := relay.New(relayConfig, cfg.snapshot)

	done := make(chan error, 1)
	go func() {
		done <- srv.Start()
	}()

	baseURL := fmt.Sprintf("http://%s", srv.Addr())
	if err := waitForRelay(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		return nil, fmt.Errorf("relay failed to start: %w", err)
	}

	return &TestRelay{
		Server:  srv,
		BaseURL: baseURL,
		port:    port,
		done:    done,
	}, nil
}

// Stop shuts down the relay
func (tr *TestRelay) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tr.Server.Shutdown(ctx); err != nil {
		return err
	}
	return <-tr.done
}

// Port returns the port the relay listens on.
func (tr *TestRelay) Port() int {
	return tr.port
}

// Client returns a new test client for this relay
func (tr *TestRelay) Client() *TestClient {
	return NewTestClient(tr.BaseURL)
}

// SSEClient returns a new SSE client for this relay
func (tr *TestRelay) SSEClient() *SSEClient {
	return NewSSEClient(tr.BaseURL)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForRelay waits for /health to answer
func waitForRelay(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if _, err := client.Health(context.Background()); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("relay not ready after %v", timeout)
}
