package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var ErrNoTablesFile = errors.New("server: no tables file configured")

// Store is the part of the state store the HTTP surface reads and edits.
type Store interface {
	EndPoints() ([]tables.EndPointSpec, error)
	ConnectTo() ([]tables.ConnectSpec, error)
	SetEndPoints(rows []tables.EndPointSpec) error
	AddEndPoint(row tables.EndPointSpec) (int, error)
	UpdateEndPoint(idx int, row tables.EndPointSpec) error
	RemoveEndPoint(idx int) error
	SetConnectTo(rows []tables.ConnectSpec) error
	AddConnect(row tables.ConnectSpec) (int, error)
	UpdateConnect(idx int, row tables.ConnectSpec) error
	RemoveConnect(idx int) error
	LANServices() ([]tables.DiscoveredPeer, error)
	Instances() ([]state.InstanceRecord, error)
	Generations() (state.Generations, error)
}

type Config struct {
	Name        string
	ListenAddr  string
	CORSOrigins []string
	// TablesPath is where POST /tables/save writes; empty disables saving.
	TablesPath      string
	ShutdownTimeout time.Duration
	// Version is reported by /health.
	Version string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:7380",
		CORSOrigins:     []string{"http://localhost:3000"},
		ShutdownTimeout: 5 * time.Second,
		Version:         "dev",
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = def.Version
	}
	return c
}

type Server struct {
	cfg     Config
	store   Store
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger
}

func New(cfg Config, store Store) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	log := logging.For("server")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		store:   store,
		router:  r,
		started: time.Now(),
		log:     log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln and shuts down gracefully when ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("server.Server.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("server.Server.Serve shutdown")
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("server.Server.Serve stopped")
	return nil
}
