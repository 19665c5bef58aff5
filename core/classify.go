package core

// IntersectionType is the relationship between a talker node and a
// listener node, derived from their hierarchy levels.
type IntersectionType uint8

const (
	TypeNone IntersectionType = iota
	TypeEntityEntity
	TypeEntityRedundant
	TypeEntityRedundantStream
	TypeEntitySingleStream
	TypeRedundantRedundant
	TypeRedundantRedundantStream
	TypeRedundantSingleStream
	TypeRedundantStreamRedundantStream
	TypeRedundantStreamSingleStream
	TypeSingleStreamSingleStream
)

var typeNames = [...]string{
	TypeNone:                           "None",
	TypeEntityEntity:                   "Entity_Entity",
	TypeEntityRedundant:                "Entity_Redundant",
	TypeEntityRedundantStream:          "Entity_RedundantStream",
	TypeEntitySingleStream:             "Entity_SingleStream",
	TypeRedundantRedundant:             "Redundant_Redundant",
	TypeRedundantRedundantStream:       "Redundant_RedundantStream",
	TypeRedundantSingleStream:          "Redundant_SingleStream",
	TypeRedundantStreamRedundantStream: "RedundantStream_RedundantStream",
	TypeRedundantStreamSingleStream:    "RedundantStream_SingleStream",
	TypeSingleStreamSingleStream:       "SingleStream_SingleStream",
}

func (t IntersectionType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// IsSummary reports whether cells of this type aggregate the cells under
// their two subtrees instead of describing one concrete stream pairing.
func (t IntersectionType) IsSummary() bool {
	switch t {
	case TypeEntityEntity, TypeEntityRedundant, TypeEntityRedundantStream, TypeEntitySingleStream,
		TypeRedundantRedundantStream:
		return true
	}
	return false
}

// isLeafLevel reports whether a cell describes a concrete connection that
// summary cells reduce over.
func (t IntersectionType) isLeafLevel() bool {
	switch t {
	case TypeSingleStreamSingleStream, TypeRedundantStreamRedundantStream,
		TypeRedundantStreamSingleStream, TypeRedundantSingleStream:
		return true
	}
	return false
}

type level uint8

const (
	levelEntity level = iota
	levelRedundant
	levelRedundantStream
	levelSingleStream
)

func levelOf(n *Node) level {
	switch n.kind {
	case KindEntity:
		return levelEntity
	case KindRedundantGroup:
		return levelRedundant
	case KindStream:
		if n.redundantMember {
			return levelRedundantStream
		}
		return levelSingleStream
	}
	invariant(ErrUnclassifiable, "node kind %s", n.kind)
	return 0
}

// Classify returns the relationship type of a talker/listener node pair.
// It only looks at hierarchy levels, so the result for a pair never
// changes while both nodes live.
func Classify(talker, listener *Node) IntersectionType {
	if talker.entityID == listener.entityID {
		return TypeNone
	}
	tl, ll := levelOf(talker), levelOf(listener)
	if tl > ll {
		tl, ll = ll, tl
	}
	switch tl {
	case levelEntity:
		switch ll {
		case levelEntity:
			return TypeEntityEntity
		case levelRedundant:
			return TypeEntityRedundant
		case levelRedundantStream:
			return TypeEntityRedundantStream
		case levelSingleStream:
			return TypeEntitySingleStream
		}
	case levelRedundant:
		switch ll {
		case levelRedundant:
			return TypeRedundantRedundant
		case levelRedundantStream:
			return TypeRedundantRedundantStream
		case levelSingleStream:
			return TypeRedundantSingleStream
		}
	case levelRedundantStream:
		switch ll {
		case levelRedundantStream:
			if talker.ordinal != listener.ordinal {
				return TypeNone
			}
			return TypeRedundantStreamRedundantStream
		case levelSingleStream:
			return TypeRedundantStreamSingleStream
		}
	case levelSingleStream:
		if ll == levelSingleStream {
			return TypeSingleStreamSingleStream
		}
	}
	invariant(ErrUnclassifiable, "talker %s vs listener %s", talker.kind, listener.kind)
	return TypeNone
}
