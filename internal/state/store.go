package state

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/rs/zerolog"
)

const (
	DefaultPeerTTL   = 10 * time.Minute
	DefaultSkewGuard = 5 * time.Second
)

type Config struct {
	Clock     clock.Clock
	PeerTTL   time.Duration
	SkewGuard time.Duration
	Mailbox   int
}

func DefaultConfig() Config {
	return Config{
		Clock:     clock.New(),
		PeerTTL:   DefaultPeerTTL,
		SkewGuard: DefaultSkewGuard,
		Mailbox:   256,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = def.PeerTTL
	}
	if c.SkewGuard <= 0 {
		c.SkewGuard = def.SkewGuard
	}
	if c.Mailbox <= 0 {
		c.Mailbox = def.Mailbox
	}
	return c
}

type message struct {
	fn    func()
	reply chan struct{}
}

// Store is the owning actor for all shared tables.
type Store struct {
	cfg     Config
	log     zerolog.Logger
	mailbox chan message
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	// Fields below are owned by the actor goroutine.
	endPoints []tables.EndPointSpec
	connectTo []tables.ConnectSpec
	peers     map[tables.PeerKey]tables.DiscoveredPeer
	instances map[string]InstanceRecord
	gen       Generations
}

// New starts the actor goroutine.
func New(cfg Config) *Store {
	cfg = cfg.WithDefaults()
	s := &Store{
		cfg:       cfg,
		log:       logging.For("state"),
		mailbox:   make(chan message, cfg.Mailbox),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		peers:     make(map[tables.PeerKey]tables.DiscoveredPeer),
		instances: make(map[string]InstanceRecord),
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case m := <-s.mailbox:
			m.fn()
			if m.reply != nil {
				close(m.reply)
			}
		case <-s.closing:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it.
func (s *Store) do(fn func()) error {
	reply := make(chan struct{})
	select {
	case s.mailbox <- message{fn: fn, reply: reply}:
	case <-s.closing:
		return ErrClosed
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		select {
		case <-reply:
			return nil
		default:
			return ErrClosed
		}
	}
}

// post enqueues fn without waiting. Posts after Close are dropped.
func (s *Store) post(fn func()) {
	select {
	case s.mailbox <- message{fn: fn}:
	case <-s.closing:
	}
}

// Close stops the actor. Pending requests fail with ErrClosed.
func (s *Store) Close() {
	s.once.Do(func() { close(s.closing) })
	<-s.done
}

func (s *Store) Clock() clock.Clock {
	return s.cfg.Clock
}

func (s *Store) Generations() (Generations, error) {
	var g Generations
	err := s.do(func() { g = s.gen })
	return g, err
}

func (s *Store) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap = Snapshot{
			EndPoints:   slices.Clone(s.endPoints),
			ConnectTo:   slices.Clone(s.connectTo),
			Peers:       s.sortedPeers(),
			Generations: s.gen,
		}
	})
	return snap, err
}

func (s *Store) sortedPeers() []tables.DiscoveredPeer {
	out := make([]tables.DiscoveredPeer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b tables.DiscoveredPeer) int {
		return cmp.Or(cmp.Compare(a.Protocol, b.Protocol), cmp.Compare(a.Name, b.Name))
	})
	return out
}
