package core

import "slices"

// matrixStore is the talker-major table of intersection records. Callers
// keep it in lockstep with the section indexes.
type matrixStore struct {
	rows    [][]Intersection
	columns int
}

func (s *matrixStore) rowCount() int    { return len(s.rows) }
func (s *matrixStore) columnCount() int { return s.columns }

func (s *matrixStore) at(talker, listener int) *Intersection {
	return &s.rows[talker][listener]
}

// insertRows adds count zeroed rows at first, each sized to the current
// column count.
func (s *matrixStore) insertRows(first, count int) {
	added := make([][]Intersection, count)
	for i := range added {
		added[i] = make([]Intersection, s.columns)
	}
	s.rows = slices.Insert(s.rows, first, added...)
}

// removeRows erases rows first..last inclusive.
func (s *matrixStore) removeRows(first, last int) {
	s.rows = slices.Delete(s.rows, first, last+1)
}

// insertColumns adds count zeroed cells at first in every row.
func (s *matrixStore) insertColumns(first, count int) {
	blank := make([]Intersection, count)
	for i := range s.rows {
		s.rows[i] = slices.Insert(s.rows[i], first, blank...)
	}
	s.columns += count
}

// removeColumns erases columns first..last inclusive in every row.
func (s *matrixStore) removeColumns(first, last int) {
	for i := range s.rows {
		s.rows[i] = slices.Delete(s.rows[i], first, last+1)
	}
	s.columns -= last - first + 1
}

func (s *matrixStore) reset() {
	s.rows = nil
	s.columns = 0
}

// checkShape panics if the table no longer matches the section counts.
func (s *matrixStore) checkShape(talkers, listeners int) {
	if len(s.rows) != talkers || s.columns != listeners {
		invariant(ErrShape, "matrix %dx%d, sections %dx%d", len(s.rows), s.columns, talkers, listeners)
	}
	for i, row := range s.rows {
		if len(row) != listeners {
			invariant(ErrShape, "row %d has %d cells, want %d", i, len(row), listeners)
		}
	}
}
