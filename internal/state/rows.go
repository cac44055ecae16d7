package state

import (
	"fmt"
	"slices"

	"github.com/danmuck/linkctl/internal/tables"
)

func (s *Store) EndPoints() ([]tables.EndPointSpec, error) {
	var out []tables.EndPointSpec
	err := s.do(func() { out = slices.Clone(s.endPoints) })
	return out, err
}

func (s *Store) ConnectTo() ([]tables.ConnectSpec, error) {
	var out []tables.ConnectSpec
	err := s.do(func() { out = slices.Clone(s.connectTo) })
	return out, err
}

// SetEndPoints replaces the End Point table.
func (s *Store) SetEndPoints(rows []tables.EndPointSpec) error {
	rows = slices.Clone(rows)
	return s.do(func() {
		if slices.Equal(s.endPoints, rows) {
			return
		}
		s.endPoints = rows
		s.gen.EndPoints++
	})
}

// AddEndPoint appends a row and returns its index.
func (s *Store) AddEndPoint(row tables.EndPointSpec) (int, error) {
	idx := -1
	err := s.do(func() {
		s.endPoints = append(s.endPoints, row)
		idx = len(s.endPoints) - 1
		s.gen.EndPoints++
	})
	return idx, err
}

func (s *Store) UpdateEndPoint(idx int, row tables.EndPointSpec) error {
	var rowErr error
	err := s.do(func() {
		if idx < 0 || idx >= len(s.endPoints) {
			rowErr = fmt.Errorf("%w: endpoint %d", ErrRowIndex, idx)
			return
		}
		if s.endPoints[idx] == row {
			return
		}
		s.endPoints[idx] = row
		s.gen.EndPoints++
	})
	if err != nil {
		return err
	}
	return rowErr
}

func (s *Store) RemoveEndPoint(idx int) error {
	var rowErr error
	err := s.do(func() {
		if idx < 0 || idx >= len(s.endPoints) {
			rowErr = fmt.Errorf("%w: endpoint %d", ErrRowIndex, idx)
			return
		}
		s.endPoints = slices.Delete(s.endPoints, idx, idx+1)
		s.gen.EndPoints++
	})
	if err != nil {
		return err
	}
	return rowErr
}

// SetConnectTo replaces the Connect-To table.
func (s *Store) SetConnectTo(rows []tables.ConnectSpec) error {
	rows = slices.Clone(rows)
	return s.do(func() {
		if slices.Equal(s.connectTo, rows) {
			return
		}
		s.connectTo = rows
		s.gen.ConnectTo++
	})
}

func (s *Store) AddConnect(row tables.ConnectSpec) (int, error) {
	idx := -1
	err := s.do(func() {
		s.connectTo = append(s.connectTo, row)
		idx = len(s.connectTo) - 1
		s.gen.ConnectTo++
	})
	return idx, err
}

func (s *Store) UpdateConnect(idx int, row tables.ConnectSpec) error {
	var rowErr error
	err := s.do(func() {
		if idx < 0 || idx >= len(s.connectTo) {
			rowErr = fmt.Errorf("%w: connect %d", ErrRowIndex, idx)
			return
		}
		if s.connectTo[idx] == row {
			return
		}
		s.connectTo[idx] = row
		s.gen.ConnectTo++
	})
	if err != nil {
		return err
	}
	return rowErr
}

func (s *Store) RemoveConnect(idx int) error {
	var rowErr error
	err := s.do(func() {
		if idx < 0 || idx >= len(s.connectTo) {
			rowErr = fmt.Errorf("%w: connect %d", ErrRowIndex, idx)
			return
		}
		s.connectTo = slices.Delete(s.connectTo, idx, idx+1)
		s.gen.ConnectTo++
	})
	if err != nil {
		return err
	}
	return rowErr
}
