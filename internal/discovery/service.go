package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

var ErrNameRequired = errors.New("discovery: node name required")

// Tables is the slice of the state store discovery reads and writes.
type Tables interface {
	Generations() (state.Generations, error)
	ActiveEndPoints() ([]state.InstanceRecord, error)
	ObservePeer(peer tables.DiscoveredPeer) (bool, error)
	Compact() (int, error)
	LANServices() ([]tables.DiscoveredPeer, error)
}

type State int32

const (
	StateIdle State = iota
	StateBroadcasting
	StateListening
	StateBroadcastingListening
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBroadcasting:
		return "broadcasting"
	case StateListening:
		return "listening"
	case StateBroadcastingListening:
		return "broadcasting+listening"
	default:
		return "unknown"
	}
}

// Service is the per-node discovery state machine.
type Service struct {
	cfg    Config
	tables Tables
	clock  clock.Clock
	net    Network
	log    zerolog.Logger

	seq   atomic.Uint64
	state atomic.Int32
	seen  *expirable.LRU[string, struct{}]

	mu   sync.Mutex
	conn net.PacketConn
}

func New(cfg Config, t Tables, clk clock.Clock) (*Service, error) {
	cfg = cfg.WithDefaults()
	if cfg.Name == "" {
		return nil, ErrNameRequired
	}
	if clk == nil {
		clk = clock.New()
	}
	network := cfg.Network
	if network == nil {
		mn, err := newMulticastNetwork(cfg)
		if err != nil {
			return nil, err
		}
		network = mn
	}
	s := &Service{
		cfg:    cfg,
		tables: t,
		clock:  clk,
		net:    network,
		log:    logging.For("discovery").With().Str("node", cfg.Name).Logger(),
		seen:   expirable.NewLRU[string, struct{}](cfg.SeqCacheSize, nil, cfg.SeqCacheTTL),
	}
	s.seq.Store(uint64(clk.Now().UnixNano()))
	return s, nil
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// Run opens the socket and runs the send and receive loops until ctx is
// done. Socket failures are retried; they never end Run early.
func (s *Service) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateIdle))
	conn, ok := s.open(ctx)
	if !ok {
		return nil
	}
	s.setConn(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	var wg sync.WaitGroup
	if s.cfg.Broadcast {
		s.state.Store(int32(StateBroadcasting))
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.sendLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		s.receiveLoop(ctx, conn)
	}()
	if s.cfg.Broadcast {
		s.state.Store(int32(StateBroadcastingListening))
	} else {
		s.state.Store(int32(StateListening))
	}
	s.log.Info().Str("state", s.State().String()).Str("dest", s.net.Destination().String()).Msg("discovery.Service.Run started")
	wg.Wait()
	s.log.Info().Msg("discovery.Service.Run stopped")
	return nil
}

func (s *Service) open(ctx context.Context) (net.PacketConn, bool) {
	for {
		conn, err := s.net.Open()
		if err == nil {
			return conn, true
		}
		s.log.Warn().Err(err).Msg("discovery.Service.open failed")
		if !s.sleep(ctx, s.cfg.ErrorBackoff) {
			return nil, false
		}
	}
}

func (s *Service) setConn(conn net.PacketConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// LocalAddr is the bound socket address once Run has opened it.
func (s *Service) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// sendLoop wakes every WakeInterval. It publishes when the period elapsed or
// when the end point generations moved since the last send, so any number of
// edits between two wakes cost one datagram.
func (s *Service) sendLoop(ctx context.Context, conn net.PacketConn) {
	ticker := s.clock.Ticker(s.cfg.WakeInterval)
	defer ticker.Stop()

	var lastKey [2]uint64
	var lastSent, lastCompact time.Time
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := s.clock.Now()
		if now.Sub(lastCompact) >= s.cfg.Period {
			s.compact()
			lastCompact = now
		}
		if !s.cfg.Broadcast {
			continue
		}
		g, err := s.tables.Generations()
		if err != nil {
			if errors.Is(err, state.ErrClosed) {
				return
			}
			continue
		}
		key := [2]uint64{g.EndPoints, g.EndPointStatus}
		if sent && key == lastKey && now.Sub(lastSent) < s.cfg.Period {
			continue
		}
		if err := s.Publish(conn); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("discovery.Service.sendLoop publish failed")
		}
		lastKey, lastSent, sent = key, now, true
	}
}

func (s *Service) compact() {
	removed, err := s.tables.Compact()
	if err != nil {
		return
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("discovery.Service.compact")
	}
	if peers, err := s.tables.LANServices(); err == nil {
		observability.SetLANServices(len(peers))
	}
}

// Publish sends one announcement of the currently open end points. Nothing
// is sent while no end point is open.
func (s *Service) Publish(conn net.PacketConn) error {
	b, adverts, err := s.BuildDatagram()
	if err != nil {
		return err
	}
	if adverts == 0 {
		return nil
	}
	if _, err := conn.WriteTo(b, s.net.Destination()); err != nil {
		observability.RecordDatagram("send_error")
		return err
	}
	observability.RecordDatagram("sent")
	return nil
}

// BuildDatagram encodes the next announcement and returns its advert count.
// Every call consumes one sequence number.
func (s *Service) BuildDatagram() ([]byte, int, error) {
	records, err := s.tables.ActiveEndPoints()
	if err != nil {
		return nil, 0, err
	}
	adverts := AdvertsFor(records)
	b, err := EncodeAnnouncement(Announcement{
		Source:   s.cfg.Name,
		Nickname: s.cfg.Nickname,
		Seq:      s.seq.Add(1),
		IPv6:     s.cfg.IPv6,
		Adverts:  adverts,
	})
	return b, len(adverts), err
}

func (s *Service) receiveLoop(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			observability.RecordDatagram("read_error")
			s.log.Warn().Err(err).Msg("discovery.Service.receiveLoop read failed")
			if !s.sleep(ctx, s.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		if _, err := s.HandleDatagram(buf[:n], src); err != nil {
			s.log.Debug().Err(err).Str("src", hostOf(src)).Msg("discovery.Service.receiveLoop dropped datagram")
		}
	}
}

// HandleDatagram applies one received datagram and returns how many adverts
// updated the LAN Services table.
func (s *Service) HandleDatagram(b []byte, src net.Addr) (int, error) {
	ann, err := DecodeAnnouncement(b)
	if err != nil {
		observability.RecordDatagram("malformed")
		return 0, err
	}
	if ann.Source == s.cfg.Name {
		observability.RecordDatagram("own")
		return 0, nil
	}
	key := ann.Source + "/" + strconv.FormatUint(ann.Seq, 10)
	if s.seen.Contains(key) {
		observability.RecordDatagram("duplicate")
		return 0, nil
	}
	s.seen.Add(key, struct{}{})

	ip := hostOf(src)
	applied := 0
	for _, ad := range ann.Adverts {
		ok, err := s.tables.ObservePeer(tables.DiscoveredPeer{
			Name:     ann.Source,
			Nickname: ann.Nickname,
			Protocol: ad.Protocol,
			IP:       ip,
			TLSPort:  ad.TLSPort,
			TCPPort:  ad.TCPPort,
			Seq:      ann.Seq,
		})
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	observability.RecordDatagram("applied")
	return applied, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}
