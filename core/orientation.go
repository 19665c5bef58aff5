package core

import "github.com/signalsfoundry/connection-matrix/model"

// Orientation selects the presented axis of the matrix.
type Orientation uint8

const (
	// Vertical is the row axis.
	Vertical Orientation = iota
	// Horizontal is the column axis.
	Horizontal
)

func (o Orientation) String() string {
	if o == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// SetTransposed swaps which side is presented as rows. Storage stays
// talker-major; observers see a reset when the value changes.
func (m *Model) SetTransposed(transposed bool) {
	if m.transposed == transposed {
		return
	}
	m.observers.BeginReset()
	m.transposed = transposed
	m.observers.EndReset()
}

// Transposed reports whether listeners are presented as rows.
func (m *Model) Transposed() bool { return m.transposed }

// SideOf returns the side presented along o.
func (m *Model) SideOf(o Orientation) model.Side {
	rows := model.Talker
	if m.transposed {
		rows = model.Listener
	}
	if o == Vertical {
		return rows
	}
	return rows.Opposite()
}

// RowCount returns the number of presented rows.
func (m *Model) RowCount() int {
	return m.sideOf(m.SideOf(Vertical)).sections.count()
}

// ColumnCount returns the number of presented columns.
func (m *Model) ColumnCount() int {
	return m.sideOf(m.SideOf(Horizontal)).sections.count()
}

// CellAt returns the cell at a presented (row, column) position.
func (m *Model) CellAt(row, column int) Intersection {
	if m.transposed {
		return m.Intersection(column, row)
	}
	return m.Intersection(row, column)
}

// NodeAt returns the node at section along o.
func (m *Model) NodeAt(section int, o Orientation) Node {
	return m.Node(m.SideOf(o), section)
}
