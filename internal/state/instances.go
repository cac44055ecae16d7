package state

import (
	"cmp"
	"slices"
)

// PutInstance records a new instance before its plugin worker starts, so the
// worker's first status post always finds it. It replaces any prior record.
func (s *Store) PutInstance(rec InstanceRecord) error {
	return s.do(func() {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.cfg.Clock.Now()
		}
		rec.Open = false
		rec.Running = true
		prev, existed := s.instances[rec.Name]
		s.instances[rec.Name] = rec
		s.gen.Instances++
		if existed && prev.Kind == KindEndPoint && prev.Open {
			s.gen.EndPointStatus++
		}
	})
}

func (s *Store) SetInstanceActive(name string, active bool) error {
	return s.do(func() {
		rec, ok := s.instances[name]
		if !ok || rec.Active == active {
			return
		}
		rec.Active = active
		s.instances[name] = rec
		s.gen.Instances++
	})
}

func (s *Store) DropInstance(name string) error {
	return s.do(func() {
		rec, ok := s.instances[name]
		if !ok {
			return
		}
		delete(s.instances, name)
		s.gen.Instances++
		if rec.Kind == KindEndPoint && rec.Open {
			s.gen.EndPointStatus++
		}
	})
}

// Instances lists every record sorted by name.
func (s *Store) Instances() ([]InstanceRecord, error) {
	var out []InstanceRecord
	err := s.do(func() {
		out = make([]InstanceRecord, 0, len(s.instances))
		for _, rec := range s.instances {
			out = append(out, rec)
		}
		slices.SortFunc(out, func(a, b InstanceRecord) int { return cmp.Compare(a.Name, b.Name) })
	})
	return out, err
}

func (s *Store) InstanceOpen(name string) (bool, error) {
	open := false
	err := s.do(func() { open = s.instances[name].Open })
	return open, err
}

// ActiveEndPoints lists end points whose listener is currently open.
func (s *Store) ActiveEndPoints() ([]InstanceRecord, error) {
	var out []InstanceRecord
	err := s.do(func() {
		for _, rec := range s.instances {
			if rec.Kind == KindEndPoint && rec.Open {
				out = append(out, rec)
			}
		}
		slices.SortFunc(out, func(a, b InstanceRecord) int { return cmp.Compare(a.Name, b.Name) })
	})
	return out, err
}

// PostStatus is the one-way channel plugin workers use to report open state.
func (s *Store) PostStatus(id string, open bool) {
	s.post(func() {
		rec, ok := s.instances[id]
		if !ok || rec.Open == open {
			return
		}
		rec.Open = open
		s.instances[id] = rec
		s.gen.Instances++
		if rec.Kind == KindEndPoint {
			s.gen.EndPointStatus++
		}
		s.log.Debug().Str("instance", id).Bool("open", open).Msg("state.Store.PostStatus")
	})
}

// PostExit marks the instance's worker as gone.
func (s *Store) PostExit(id string) {
	s.post(func() {
		rec, ok := s.instances[id]
		if !ok || !rec.Running {
			return
		}
		rec.Running = false
		if rec.Open && rec.Kind == KindEndPoint {
			s.gen.EndPointStatus++
		}
		rec.Open = false
		s.instances[id] = rec
		s.gen.Instances++
		s.gen.Exits++
		s.log.Debug().Str("instance", id).Msg("state.Store.PostExit")
	})
}
