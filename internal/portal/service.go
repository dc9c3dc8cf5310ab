// Package portal assembles the sync core: the durable cache, the content
// repositories, the update bus and the sync client.
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/internal/remote"
	"github.com/dbt-portal/dbtsync/internal/storage"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

// ErrNotAdmin is returned by the admin operations when the identity is not an
// administrator.
var ErrNotAdmin = errors.New("admin role required")

// Result is the outcome of an admin mutation. Broadcast reports whether the
// mutation was sent to the server; the local write succeeded either way.
type Result struct {
	Record    types.ContentRecord
	All       []types.ContentRecord
	Broadcast bool
}

// Service is one running portal client.
type Service struct {
	store    *storage.Storage
	bus      *event.Bus
	repo     *content.Repository
	client   *remote.Client
	identity types.Identity
	log      zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option configures a Service.
type Option func(*options)

type options struct {
	dialer   remote.Dialer
	repoOpts []content.Option
	identity *types.Identity
}

// WithDialer replaces the websocket dialer.
func WithDialer(d remote.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRepositoryOptions passes options to the content repository.
func WithRepositoryOptions(opts ...content.Option) Option {
	return func(o *options) { o.repoOpts = append(o.repoOpts, opts...) }
}

// WithIdentity overrides the identity from the config and the session.
func WithIdentity(identity types.Identity) Option {
	return func(o *options) { o.identity = &identity }
}

// New builds a service from cfg. Nothing is loaded or dialed until Start.
func New(ctx context.Context, cfg *types.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config has no dataDir")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		store: storage.New(cfg.DataDir),
		bus:   event.NewBus(),
		log:   logging.Component("portal"),
	}
	s.repo = content.NewRepository(s.store, o.repoOpts...)

	identity, err := s.resolveIdentity(ctx, cfg.Identity, o.identity)
	if err != nil {
		return nil, err
	}
	s.identity = identity

	syncOpts := remote.Options{
		URL:           cfg.ServerURL,
		AutoReconnect: true,
		Dialer:        o.dialer,
	}
	if sc := cfg.Sync; sc != nil {
		syncOpts.ConnectTimeout = sc.ConnectTimeout.Std()
		syncOpts.ReconnectDelay = sc.ReconnectDelay.Std()
		syncOpts.MaxReconnectAttempts = sc.MaxReconnectAttempts
		if sc.AutoReconnect != nil {
			syncOpts.AutoReconnect = *sc.AutoReconnect
		}
	}
	s.client = remote.New(syncOpts, s.repo, s.bus)

	return s, nil
}

// resolveIdentity picks, in order: the explicit override, the configured
// identity, the user saved in the session, and finally a new guest which is
// saved for next time.
func (s *Service) resolveIdentity(ctx context.Context, configured, override *types.Identity) (types.Identity, error) {
	if override != nil && override.UserID != "" {
		return *override, nil
	}
	if configured != nil && configured.UserID != "" {
		return *configured, nil
	}

	user, ok, err := s.store.User(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring unreadable session user")
	} else if ok && user.UserID != "" {
		return user, nil
	}

	guest := types.Identity{UserID: "guest-" + ulid.Make().String(), Role: "citizen"}
	if configured != nil {
		guest.Role = configured.Role
		guest.Name = configured.Name
	}
	if guest.Role == "" {
		guest.Role = "citizen"
	}
	if err := s.store.SaveUser(ctx, guest); err != nil {
		return types.Identity{}, fmt.Errorf("failed to save guest identity: %w", err)
	}
	s.log.Info().Str("user", guest.UserID).Msg("created guest identity")
	return guest, nil
}

// Start loads every collection, seeding those never initialized, and starts
// the sync client in the background. The identity is announced after every
// successful connect.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return remote.ErrStopped
	}
	if s.started {
		return nil
	}

	s.loadAll(ctx)
	if err := s.client.RegisterIdentity(s.identity); err != nil {
		s.log.Warn().Err(err).Msg("failed to register identity")
	}
	s.client.Start()
	s.started = true
	s.log.Info().Str("user", s.identity.UserID).Str("role", s.identity.Role).Msg("portal started")
	return nil
}

// Connect loads the collections, makes one connection attempt and waits for
// the server's first data_sync. It is meant for short-lived callers that do
// not want the background reconnect loop.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return remote.ErrStopped
	}

	s.loadAll(ctx)

	synced := make(chan struct{}, 1)
	unsub := s.bus.Subscribe(event.NoticeUpdated, func(e event.Event) {
		if data, ok := e.Data.(event.UpdateData); ok && data.Mutation == types.MutationDataSync {
			select {
			case synced <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if err := s.client.RegisterIdentity(s.identity); err != nil {
		return err
	}
	if err := s.client.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for data sync: %w", ctx.Err())
	}
}

func (s *Service) loadAll(ctx context.Context) {
	for _, c := range types.Collections() {
		res := s.repo.Load(ctx, c, s.repo.Seed(c))
		ev := s.log.Debug()
		if res.Degraded() {
			ev = s.log.Warn().Err(res.Err)
		}
		ev.Str("collection", string(c)).
			Int("records", len(res.Records)).
			Bool("seeded", res.Seeded).
			Msg("collection loaded")
	}
}

// Stop disconnects the sync client and closes the bus. A stopped service
// cannot be started again.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Stop()
	s.log.Info().Msg("portal stopped")
	return s.bus.Close()
}

// Reconnect is the manual reconnect offered once the client has given up.
func (s *Service) Reconnect(ctx context.Context) error {
	return s.client.Reconnect(ctx)
}

// CreateNotice creates a notice.
func (s *Service) CreateNotice(ctx context.Context, draft content.Draft) (Result, error) {
	return s.Create(ctx, types.CollectionNotices, draft)
}

// CreateAwareness creates an awareness item.
func (s *Service) CreateAwareness(ctx context.Context, draft content.Draft) (Result, error) {
	return s.Create(ctx, types.CollectionAwareness, draft)
}

// CreateEvent creates a community event.
func (s *Service) CreateEvent(ctx context.Context, draft content.Draft) (Result, error) {
	return s.Create(ctx, types.CollectionEvents, draft)
}

// Create adds a record to c, tells local subscribers and broadcasts the
// resulting collection.
func (s *Service) Create(ctx context.Context, c types.Collection, draft content.Draft) (Result, error) {
	if err := s.requireAdmin(); err != nil {
		return Result{}, err
	}
	change, err := s.repo.Create(ctx, c, draft)
	if err != nil {
		return Result{}, err
	}
	return s.commit(c, types.MutationCreated, change), nil
}

// SetActive publishes or withdraws a record.
func (s *Service) SetActive(ctx context.Context, c types.Collection, id int64, active bool) (Result, error) {
	if err := s.requireAdmin(); err != nil {
		return Result{}, err
	}
	change, err := s.repo.SetActive(ctx, c, id, active)
	if err != nil {
		return Result{}, err
	}
	return s.commit(c, types.MutationUpdated, change), nil
}

// Remove deletes a record.
func (s *Service) Remove(ctx context.Context, c types.Collection, id int64) (Result, error) {
	if err := s.requireAdmin(); err != nil {
		return Result{}, err
	}
	change, err := s.repo.Remove(ctx, c, id)
	if err != nil {
		return Result{}, err
	}
	return s.commit(c, types.MutationDeleted, change), nil
}

func (s *Service) requireAdmin() error {
	if !s.identity.IsAdmin() {
		return fmt.Errorf("%w: %s is %q", ErrNotAdmin, s.identity.UserID, s.identity.Role)
	}
	return nil
}

// commit publishes a persisted change locally, then broadcasts it.
func (s *Service) commit(c types.Collection, mutation types.MutationType, change content.Change) Result {
	record := change.Record

	s.bus.Publish(event.Event{
		Type: event.ForCollection(c),
		Data: event.UpdateData{
			Collection: c,
			Mutation:   mutation,
			Record:     &record,
			Records:    change.All,
			Source:     event.SourceLocal,
		},
	})

	sent := s.client.BroadcastMutation(types.Mutation{
		Collection: c,
		Type:       mutation,
		Record:     &record,
		All:        change.All,
		AdminUser:  s.adminName(),
	})
	if !sent {
		s.log.Info().
			Str("collection", string(c)).
			Int64("id", record.ID).
			Msg("saved locally, not broadcast")
	}
	return Result{Record: record, All: change.All, Broadcast: sent}
}

func (s *Service) adminName() string {
	if s.identity.Name != "" {
		return s.identity.Name
	}
	return s.identity.UserID
}

// Active returns the records of c a citizen may see, newest first.
func (s *Service) Active(ctx context.Context, c types.Collection) []types.ContentRecord {
	return s.repo.ListActive(ctx, c)
}

// All returns every record of c, including inactive ones.
func (s *Service) All(ctx context.Context, c types.Collection) []types.ContentRecord {
	return s.repo.List(ctx, c)
}

// Identity returns the identity announced to the server.
func (s *Service) Identity() types.Identity {
	return s.identity
}

// Bus returns the update bus.
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// Client returns the sync client.
func (s *Service) Client() *remote.Client {
	return s.client
}

// Repository returns the content repository.
func (s *Service) Repository() *content.Repository {
	return s.repo
}

// Store returns the durable cache.
func (s *Service) Store() *storage.Storage {
	return s.store
}
