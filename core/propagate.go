package core

import (
	"context"

	"github.com/RoaringBitmap/roaring"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/model"
)

// affected collects the sections touched by one event on each side. Every
// cell in an affected row or column is recomputed and notified once.
type affected struct {
	talkers   *roaring.Bitmap
	listeners *roaring.Bitmap
}

func newAffected() *affected {
	return &affected{
		talkers:   roaring.New(),
		listeners: roaring.New(),
	}
}

func (a *affected) side(side model.Side) *roaring.Bitmap {
	if side == model.Talker {
		return a.talkers
	}
	return a.listeners
}

func (a *affected) empty() bool { return a.talkers.IsEmpty() && a.listeners.IsEmpty() }

// mark adds the section of id and, when andParents is set, every strict
// ancestor so that summary cells above it are refreshed too.
func (m *Model) mark(a *affected, side model.Side, id NodeID, andParents bool) {
	s := m.sideOf(side)
	bm := a.side(side)
	bm.Add(uint32(s.sections.mustIndexOf(id)))
	if !andParents {
		return
	}
	for _, p := range s.tree.Ancestors(id) {
		bm.Add(uint32(s.sections.mustIndexOf(p)))
	}
}

// flush recomputes every affected cell with dirty, non-summary cells
// before summary cells, then emits one CellChanged per cell in ascending
// row-major order.
func (m *Model) flush(ctx context.Context, a *affected, dirty DirtyFlags) int {
	if a.empty() {
		return 0
	}
	rows := m.talkers.sections.count()
	cols := m.listeners.sections.count()

	fields := []logging.Field{logging.String("dirty", dirty.String())}
	for _, side := range []model.Side{model.Talker, model.Listener} {
		if bm := a.side(side); !bm.IsEmpty() {
			fields = append(fields,
				logging.Section(side, int(bm.Minimum())),
				logging.Int(side.String()+"_sections_affected", int(bm.GetCardinality())),
			)
		}
	}
	logging.LoggerFromContext(ctx, m.log).Debug(ctx, "recomputing affected sections", fields...)

	visit := func(fn func(t, l int)) {
		for t := 0; t < rows; t++ {
			if a.talkers.Contains(uint32(t)) {
				for l := 0; l < cols; l++ {
					fn(t, l)
				}
				continue
			}
			it := a.listeners.Iterator()
			for it.HasNext() {
				l := int(it.Next())
				if l >= cols {
					break
				}
				fn(t, l)
			}
		}
	}

	for pass := 0; pass < 2; pass++ {
		summary := pass == 1
		visit(func(t, l int) {
			if m.store.at(t, l).Type.IsSummary() == summary {
				m.recomputeCell(ctx, t, l, dirty)
			}
		})
	}

	notified := 0
	visit(func(t, l int) {
		if m.store.at(t, l).Type == TypeNone {
			return
		}
		m.observers.CellChanged(t, l)
		notified++
	})
	m.metrics.AddCellNotifications(notified)
	return notified
}
