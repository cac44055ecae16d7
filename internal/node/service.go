package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/danmuck/linkctl/internal/discovery"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/protocol/stream"
	"github.com/danmuck/linkctl/internal/reconcile"
	"github.com/danmuck/linkctl/internal/server"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service runs one node until its context ends.
type Service struct {
	cfg        Config
	store      *state.Store
	registry   *protocol.Registry
	reconciler *reconcile.Reconciler
	discovery  *discovery.Service
	http       *server.Server
	log        zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	cfg = cfg.WithDefaults()
	log := logging.For("node").With().Str("node", cfg.Name).Logger()

	store := state.New(cfg.State)
	registry := protocol.NewRegistry()
	if err := stream.RegisterBuiltins(registry, cfg.Transport); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s := &Service{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		reconciler: reconcile.New(cfg.Reconcile, store, registry),
		log:        log,
	}
	if cfg.DiscoveryEnabled {
		disc, err := discovery.New(cfg.Discovery, store, store.Clock())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("%w: discovery: %w", ErrInvalidConfig, err)
		}
		s.discovery = disc
	}
	if cfg.HTTPEnabled {
		s.http = server.New(cfg.HTTP, store)
	}
	return s, nil
}

func (s *Service) Name() string {
	return s.cfg.Name
}

func (s *Service) Store() *state.Store {
	return s.store
}

func (s *Service) Registry() *protocol.Registry {
	return s.registry
}

func (s *Service) Reconciler() *reconcile.Reconciler {
	return s.reconciler
}

// Discovery is nil when discovery is disabled.
func (s *Service) Discovery() *discovery.Service {
	return s.discovery
}

// HTTP is nil when the operator API is disabled.
func (s *Service) HTTP() *server.Server {
	return s.http
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve loads the tables and supervises every loop until ctx ends or one of
// them fails, then deletes all live instances and closes the store.
func (s *Service) Serve(ctx context.Context) error {
	defer s.store.Close()
	if err := s.LoadTables(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reconciler.Run(gctx) })
	if s.discovery != nil {
		g.Go(func() error { return s.discovery.Run(gctx) })
	}
	if s.http != nil {
		g.Go(func() error { return s.http.Run(gctx) })
	}
	if s.cfg.WatchTables && s.cfg.TablesPath != "" {
		watcher := tables.NewWatcher(s.cfg.TablesPath, s.log, s.reloadTables)
		g.Go(func() error {
			if err := watcher.Watch(gctx); err != nil {
				s.log.Warn().Err(err).Str("path", s.cfg.TablesPath).Msg("node.Service.Serve tables watch stopped")
			}
			return nil
		})
	}
	s.log.Info().
		Str("tables", s.cfg.TablesPath).
		Bool("discovery", s.discovery != nil).
		Bool("http", s.http != nil).
		Strs("protocols", s.registry.Names()).
		Msg("node.Service.Serve started")

	err := g.Wait()
	if shutdownErr := s.reconciler.Shutdown(); shutdownErr != nil {
		s.log.Warn().Err(shutdownErr).Msg("node.Service.Serve shutdown incomplete")
	}
	s.log.Info().Msg("node.Service.Serve stopped")
	return err
}

// LoadTables replaces both tables with the file contents. A missing file
// leaves the tables empty.
func (s *Service) LoadTables() error {
	if s.cfg.TablesPath == "" {
		return nil
	}
	doc, err := tables.LoadFile(s.cfg.TablesPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info().Str("path", s.cfg.TablesPath).Msg("node.Service.LoadTables no file yet")
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.SetEndPoints(doc.EndPoints); err != nil {
		return err
	}
	if err := s.store.SetConnectTo(doc.ConnectTo); err != nil {
		return err
	}
	s.log.Info().
		Str("path", s.cfg.TablesPath).
		Int("endpoints", len(doc.EndPoints)).
		Int("connect", len(doc.ConnectTo)).
		Msg("node.Service.LoadTables")
	return nil
}

func (s *Service) reloadTables() {
	if err := s.LoadTables(); err != nil {
		s.log.Warn().Err(err).Msg("node.Service.reloadTables kept previous tables")
	}
}
