package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/model"
)

const tracerName = "github.com/signalsfoundry/connection-matrix/core"

// MetricsRecorder receives counters and gauges describing the matrix.
type MetricsRecorder interface {
	SetSectionCounts(talkers, listeners int)
	SetEntityCounts(talkers, listeners int)
	ObserveEvent(kind string, d time.Duration)
	IncRecomputation(result string)
	AddCellNotifications(n int)
}

type nopMetrics struct{}

func (nopMetrics) SetSectionCounts(int, int)          {}
func (nopMetrics) SetEntityCounts(int, int)           {}
func (nopMetrics) ObserveEvent(string, time.Duration) {}
func (nopMetrics) IncRecomputation(string)            {}
func (nopMetrics) AddCellNotifications(int)           {}

// ModelOption customises Model construction.
type ModelOption func(*Model)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l logging.Logger) ModelOption {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) ModelOption {
	return func(m *Model) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithMetricsRecorder attaches a recorder for matrix metrics.
func WithMetricsRecorder(r MetricsRecorder) ModelOption {
	return func(m *Model) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithTracer overrides the tracer used for per-event spans.
func WithTracer(t trace.Tracer) ModelOption {
	return func(m *Model) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithSummaryCells controls whether entity-level and group-vs-leg cells
// reduce Connected over the cells beneath them. Enabled by default; when
// disabled those cells never carry flags.
func WithSummaryCells(enabled bool) ModelOption {
	return func(m *Model) {
		m.summaries = enabled
	}
}

// matrixSide bundles one side's hierarchy, entity order and sections.
type matrixSide struct {
	side     model.Side
	tree     *Hierarchy
	roots    []NodeID
	sections *sectionIndex
}

func newMatrixSide(side model.Side) *matrixSide {
	return &matrixSide{
		side:     side,
		tree:     NewHierarchy(side),
		sections: newSectionIndex(),
	}
}

func (s *matrixSide) rebuild() { s.sections.rebuild(s.tree, s.roots) }

func (s *matrixSide) reset() {
	s.tree.Reset()
	s.roots = nil
	s.sections.reset()
}

// Model is the update orchestrator: it owns both hierarchies, their
// section indexes and the matrix store, and keeps them consistent as
// device-state events arrive.
//
// Model is not safe for concurrent use. Hosts must serialize calls.
type Model struct {
	state     DeviceState
	log       logging.Logger
	observers Observers
	metrics   MetricsRecorder
	tracer    trace.Tracer
	summaries bool

	transposed bool

	talkers   *matrixSide
	listeners *matrixSide
	store     matrixStore
	engine    engine
}

// NewModel returns an empty matrix backed by state.
func NewModel(state DeviceState, opts ...ModelOption) *Model {
	m := &Model{
		state:     state,
		log:       logging.Noop(),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer(tracerName),
		summaries: true,
		talkers:   newMatrixSide(model.Talker),
		listeners: newMatrixSide(model.Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.engine = engine{
		talkers:   m.talkers.tree,
		listeners: m.listeners.tree,
		state:     state,
		log:       m.log,
	}
	m.updateMetrics()
	return m
}

// AddObserver registers o for all subsequent notifications.
func (m *Model) AddObserver(o Observer) {
	if o != nil {
		m.observers = append(m.observers, o)
	}
}

func (m *Model) sideOf(side model.Side) *matrixSide {
	if side == model.Talker {
		return m.talkers
	}
	return m.listeners
}

// beginEvent opens the span and correlation id for one applied event. The
// returned func records its duration and refreshes gauges.
func (m *Model) beginEvent(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = logging.EnsureEventID(ctx)
	ctx = logging.ContextWithLogger(ctx, m.log.With(logging.String("event", kind)))
	ctx, span := m.tracer.Start(ctx, "matrix."+kind, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, span, func() {
		m.metrics.ObserveEvent(kind, time.Since(started))
		m.updateMetrics()
		span.End()
	}
}

func (m *Model) updateMetrics() {
	m.metrics.SetSectionCounts(m.talkers.sections.count(), m.listeners.sections.count())
	m.metrics.SetEntityCounts(len(m.talkers.roots), len(m.listeners.roots))
}

func entityAttr(id model.EntityID) attribute.KeyValue {
	return attribute.String("matrix.entity_id", id.String())
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ---- structural edits ----

// addEntity appends the subtree of topo on side at the end of its
// sections and initializes every new cell.
func (m *Model) addEntity(ctx context.Context, s *matrixSide, topo *model.EntityTopology) error {
	root, err := BuildEntity(s.tree, topo)
	if err != nil {
		return err
	}
	count := 1 + s.tree.AbsoluteChildrenCount(root)
	first := s.sections.count()
	last := first + count - 1

	m.observers.BeginInsert(s.side, first, last)
	s.roots = append(s.roots, root)
	s.rebuild()
	if s.side == model.Talker {
		m.store.insertRows(first, count)
	} else {
		m.store.insertColumns(first, count)
	}
	m.initRange(ctx, s.side, first, last)
	m.checkShape()
	m.observers.EndInsert(s.side, first, last)

	m.log.Debug(ctx, "entity inserted",
		logging.Entity(topo.ID),
		logging.Side(s.side),
		logging.Int("first", first),
		logging.Int("last", last),
	)
	return nil
}

// initRange classifies every cell of the new sections and runs a full
// engine pass over them: leaf cells first, then summaries.
func (m *Model) initRange(ctx context.Context, side model.Side, first, last int) {
	var tFirst, tLast, lFirst, lLast int
	if side == model.Talker {
		tFirst, tLast = first, last
		lFirst, lLast = 0, m.listeners.sections.count()-1
	} else {
		tFirst, tLast = 0, m.talkers.sections.count()-1
		lFirst, lLast = first, last
	}
	for t := tFirst; t <= tLast; t++ {
		tn := m.talkers.tree.mustNode(m.talkers.sections.nodeAt(t))
		for l := lFirst; l <= lLast; l++ {
			ln := m.listeners.tree.mustNode(m.listeners.sections.nodeAt(l))
			*m.store.at(t, l) = Intersection{
				Type:     Classify(tn, ln),
				Talker:   tn.id,
				Listener: ln.id,
			}
		}
	}
	for pass := 0; pass < 2; pass++ {
		for t := tFirst; t <= tLast; t++ {
			for l := lFirst; l <= lLast; l++ {
				rec := m.store.at(t, l)
				if rec.Type.IsSummary() == (pass == 1) {
					m.recomputeCell(ctx, t, l, DirtyAll)
				}
			}
		}
	}
}

// removeEntity drops the subtree of id from side, if present.
func (m *Model) removeEntity(ctx context.Context, s *matrixSide, id model.EntityID) bool {
	first, ok := s.sections.entity(id)
	if !ok {
		return false
	}
	root := s.sections.nodeAt(first)
	last := first + s.tree.AbsoluteChildrenCount(root)

	m.observers.BeginRemove(s.side, first, last)
	if s.side == model.Talker {
		m.store.removeRows(first, last)
	} else {
		m.store.removeColumns(first, last)
	}
	for i, r := range s.roots {
		if r == root {
			s.roots = append(s.roots[:i], s.roots[i+1:]...)
			break
		}
	}
	s.rebuild()
	s.tree.Release(root)
	m.checkShape()
	m.observers.EndRemove(s.side, first, last)

	m.log.Debug(ctx, "entity removed",
		logging.Entity(id),
		logging.Side(s.side),
		logging.Int("first", first),
		logging.Int("last", last),
	)
	return true
}

func (m *Model) checkShape() {
	m.store.checkShape(m.talkers.sections.count(), m.listeners.sections.count())
}

// recomputeCell refreshes one cell. Summary cells only react to
// connection changes.
func (m *Model) recomputeCell(ctx context.Context, t, l int, dirty DirtyFlags) {
	rec := m.store.at(t, l)
	switch {
	case rec.Type == TypeNone:
		return
	case rec.Type.IsSummary():
		if m.summaries && dirty.Has(DirtyConnected) {
			m.summarize(t, l)
		}
		return
	}
	m.metrics.IncRecomputation(m.engine.recompute(ctx, rec, dirty))
}

// summarize sets Connected on a summary cell when any leaf-level cell in
// the rectangle spanned by its two subtrees is connected.
func (m *Model) summarize(t, l int) {
	rec := m.store.at(t, l)
	tLast := t + m.talkers.tree.AbsoluteChildrenCount(rec.Talker)
	lLast := l + m.listeners.tree.AbsoluteChildrenCount(rec.Listener)
	connected := false
	for r := t; r <= tLast && !connected; r++ {
		row := m.store.rows[r]
		for c := l; c <= lLast; c++ {
			if row[c].Type.isLeafLevel() && row[c].Capabilities.Has(CapConnected) {
				connected = true
				break
			}
		}
	}
	rec.Capabilities.assign(CapConnected, connected)
}

// ---- queries ----

// TalkerSectionCount returns the number of talker sections.
func (m *Model) TalkerSectionCount() int { return m.talkers.sections.count() }

// ListenerSectionCount returns the number of listener sections.
func (m *Model) ListenerSectionCount() int { return m.listeners.sections.count() }

// Intersection returns a copy of the cell at (talker, listener). It panics
// when either section is out of range.
func (m *Model) Intersection(talker, listener int) Intersection {
	return *m.store.at(talker, listener)
}

// Node returns a copy of the node at section on side.
func (m *Model) Node(side model.Side, section int) Node {
	s := m.sideOf(side)
	n := *s.tree.mustNode(s.sections.nodeAt(section))
	n.children = append([]NodeID(nil), n.children...)
	return n
}

// Hierarchy exposes the node arena of side for read-only traversal.
func (m *Model) Hierarchy(side model.Side) *Hierarchy { return m.sideOf(side).tree }

// SectionOf returns the section of a node on side.
func (m *Model) SectionOf(side model.Side, id NodeID) (int, error) {
	return m.sideOf(side).sections.IndexOf(id)
}

// TalkerSection returns the section of an entity's talker root.
func (m *Model) TalkerSection(id model.EntityID) (int, bool) {
	return m.talkers.sections.entity(id)
}

// ListenerSection returns the section of an entity's listener root.
func (m *Model) ListenerSection(id model.EntityID) (int, bool) {
	return m.listeners.sections.entity(id)
}

// StreamSection returns the section of one stream node.
func (m *Model) StreamSection(side model.Side, id model.EntityID, stream model.StreamIndex) (int, bool) {
	return m.sideOf(side).sections.stream(id, stream)
}

// SubtreeSize returns the number of sections below section on side.
func (m *Model) SubtreeSize(side model.Side, section int) int {
	s := m.sideOf(side)
	return s.tree.AbsoluteChildrenCount(s.sections.nodeAt(section))
}

// Walk visits the subtree rooted at section in flattening order, passing
// each node's section.
func (m *Model) Walk(side model.Side, section int, fn func(section int, n *Node)) {
	s := m.sideOf(side)
	i := section
	s.tree.Walk(s.sections.nodeAt(section), func(n *Node) {
		fn(i, n)
		i++
	})
}

// Entities returns the entity IDs present on side, in section order.
func (m *Model) Entities(side model.Side) []model.EntityID {
	s := m.sideOf(side)
	out := make([]model.EntityID, 0, len(s.roots))
	for _, r := range s.roots {
		out = append(out, s.tree.mustNode(r).entityID)
	}
	return out
}
