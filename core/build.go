package core

import (
	"fmt"
	"slices"

	"github.com/signalsfoundry/connection-matrix/model"
)

// BuildEntity materializes the subtree for one entity on h's side from a
// topology snapshot and returns the root ID.
//
// Redundant groups come first, by ascending redundant index, each with its
// members by ascending stream index. Plain streams follow, ascending. On
// error nothing is left allocated in h.
func BuildEntity(h *Hierarchy, topo *model.EntityTopology) (NodeID, error) {
	side := h.Side()
	if err := validateTopology(topo, side); err != nil {
		return NodeID{}, err
	}

	root := h.alloc(Node{
		kind:     KindEntity,
		name:     topo.Name,
		entityID: topo.ID,
	})

	groups := slices.Clone(topo.RedundantGroups(side))
	slices.SortFunc(groups, func(a, b model.RedundantGroup) int {
		return int(a.Index) - int(b.Index)
	})

	grouped := make(map[model.StreamIndex]struct{})
	for _, g := range groups {
		gid := h.addChild(root, Node{
			kind:           KindRedundantGroup,
			name:           g.Name,
			entityID:       topo.ID,
			redundantIndex: g.Index,
		})
		members := slices.Clone(g.Streams)
		slices.Sort(members)
		for _, idx := range members {
			desc, _ := topo.Stream(side, idx)
			h.addChild(gid, streamNode(topo, desc, true))
			grouped[idx] = struct{}{}
		}
	}

	plain := make([]model.StreamDescriptor, 0, len(topo.Streams(side)))
	for _, desc := range topo.Streams(side) {
		if _, ok := grouped[desc.Index]; !ok {
			plain = append(plain, desc)
		}
	}
	slices.SortFunc(plain, func(a, b model.StreamDescriptor) int {
		return int(a.Index) - int(b.Index)
	})
	for i := range plain {
		h.addChild(root, streamNode(topo, &plain[i], false))
	}
	return root, nil
}

func streamNode(topo *model.EntityTopology, desc *model.StreamDescriptor, member bool) Node {
	n := Node{
		kind:            KindStream,
		name:            desc.Name,
		entityID:        topo.ID,
		streamIndex:     desc.Index,
		avbInterface:    desc.AvbInterface,
		redundantMember: member,
		format:          desc.Format,
		running:         desc.Running,
		mediaLock:       desc.MediaLock,
		linkStatus:      model.LinkUnknown,
	}
	if avb, ok := topo.Interface(desc.AvbInterface); ok {
		n.grandmasterID = avb.GrandmasterID
		n.grandmasterDomain = avb.GrandmasterDomain
		n.linkStatus = avb.LinkStatus
	}
	return n
}

func validateTopology(topo *model.EntityTopology, side model.Side) error {
	if !topo.ID.Valid() {
		return fmt.Errorf("%w: invalid entity id %s", ErrBadTopology, topo.ID)
	}
	seen := make(map[model.StreamIndex]bool)
	for _, desc := range topo.Streams(side) {
		if seen[desc.Index] {
			return fmt.Errorf("%w: %s %s stream %d declared twice", ErrBadTopology, topo.ID, side, desc.Index)
		}
		seen[desc.Index] = true
	}
	owner := make(map[model.StreamIndex]model.RedundantIndex)
	groups := make(map[model.RedundantIndex]bool)
	for _, g := range topo.RedundantGroups(side) {
		if groups[g.Index] {
			return fmt.Errorf("%w: %s %s redundant group %d declared twice", ErrBadTopology, topo.ID, side, g.Index)
		}
		groups[g.Index] = true
		if len(g.Streams) == 0 {
			return fmt.Errorf("%w: %s %s redundant group %d is empty", ErrBadTopology, topo.ID, side, g.Index)
		}
		for _, idx := range g.Streams {
			if !seen[idx] {
				return fmt.Errorf("%w: %s %s redundant group %d names unknown stream %d", ErrBadTopology, topo.ID, side, g.Index, idx)
			}
			if prev, dup := owner[idx]; dup {
				return fmt.Errorf("%w: %s %s stream %d in redundant groups %d and %d", ErrBadTopology, topo.ID, side, idx, prev, g.Index)
			}
			owner[idx] = g.Index
		}
	}
	return nil
}
