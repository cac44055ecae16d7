package state

import (
	"time"

	"github.com/danmuck/linkctl/internal/tables"
)

// ObservePeer applies one discovery advert. An advert whose sequence matches
// the row already held for (name, protocol) is a re-broadcast and is dropped.
// Otherwise expired rows are purged and the row is upserted with LastSeen set
// to now. It reports whether the advert was applied.
func (s *Store) ObservePeer(peer tables.DiscoveredPeer) (bool, error) {
	applied := false
	err := s.do(func() {
		key := peer.Key()
		prev, seen := s.peers[key]
		if seen && prev.Seq == peer.Seq {
			return
		}
		now := s.cfg.Clock.Now()
		changed := s.purge(now) > 0

		peer.LastSeen = now
		prev, seen = s.peers[key]
		if !seen || !samePeer(prev, peer) {
			changed = true
		}
		s.peers[key] = peer
		applied = true
		if changed {
			s.gen.Peers++
		}
	})
	return applied, err
}

// Compact purges expired and future-dated rows and returns how many went.
func (s *Store) Compact() (int, error) {
	removed := 0
	err := s.do(func() {
		removed = s.purge(s.cfg.Clock.Now())
		if removed > 0 {
			s.gen.Peers++
		}
	})
	return removed, err
}

// LANServices lists the discovered peers sorted by protocol then name.
func (s *Store) LANServices() ([]tables.DiscoveredPeer, error) {
	var out []tables.DiscoveredPeer
	err := s.do(func() { out = s.sortedPeers() })
	return out, err
}

func (s *Store) purge(now time.Time) int {
	removed := 0
	for key, p := range s.peers {
		age := now.Sub(p.LastSeen)
		if age > s.cfg.PeerTTL || -age > s.cfg.SkewGuard {
			delete(s.peers, key)
			removed++
			s.log.Debug().Str("peer", key.String()).Dur("age", age).Msg("state.Store.purge")
		}
	}
	return removed
}

// samePeer ignores the fields that change on every advert.
func samePeer(a, b tables.DiscoveredPeer) bool {
	return a.Name == b.Name &&
		a.Nickname == b.Nickname &&
		a.Protocol == b.Protocol &&
		a.IP == b.IP &&
		a.TLSPort == b.TLSPort &&
		a.TCPPort == b.TCPPort
}
