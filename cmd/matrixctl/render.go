package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/signalsfoundry/connection-matrix/core"
	"github.com/signalsfoundry/connection-matrix/model"
)

const legend = "C connected  p partially connected  f fast connecting  D wrong domain  F wrong format  X interface down  . nothing"

var allTypes = []core.IntersectionType{
	core.TypeEntityEntity,
	core.TypeEntityRedundant,
	core.TypeEntityRedundantStream,
	core.TypeEntitySingleStream,
	core.TypeRedundantRedundant,
	core.TypeRedundantRedundantStream,
	core.TypeRedundantSingleStream,
	core.TypeRedundantStreamRedundantStream,
	core.TypeRedundantStreamSingleStream,
	core.TypeSingleStreamSingleStream,
}

var typeAbbrev = map[core.IntersectionType]string{
	core.TypeEntityEntity:                   "EE",
	core.TypeEntityRedundant:                "ER",
	core.TypeEntityRedundantStream:          "ERs",
	core.TypeEntitySingleStream:             "ES",
	core.TypeRedundantRedundant:             "RR",
	core.TypeRedundantRedundantStream:       "RRs",
	core.TypeRedundantSingleStream:          "RS",
	core.TypeRedundantStreamRedundantStream: "RsRs",
	core.TypeRedundantStreamSingleStream:    "RsS",
	core.TypeSingleStreamSingleStream:       "SS",
}

func typeGlyph(c core.Cell) string { return typeAbbrev[c.Type] }

func cellGlyph(c core.Cell) string {
	var b strings.Builder
	switch {
	case c.Capabilities.Has(core.CapConnected):
		b.WriteByte('C')
	case c.PartiallyConnected:
		b.WriteByte('p')
	}
	if c.Capabilities.Has(core.CapFastConnecting) {
		b.WriteByte('f')
	}
	if c.Capabilities.Has(core.CapWrongDomain) {
		b.WriteByte('D')
	}
	if c.Capabilities.Has(core.CapWrongFormat) {
		b.WriteByte('F')
	}
	if c.Capabilities.Has(core.CapInterfaceDown) {
		b.WriteByte('X')
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

func headerLabel(h core.Header) string {
	name := h.Name
	switch h.Kind {
	case core.KindEntity:
		if name == "" {
			name = h.EntityID.String()
		}
	case core.KindRedundantGroup:
		if name == "" {
			name = fmt.Sprintf("redundant %d", h.RedundantIndex)
		}
	case core.KindStream:
		if name == "" {
			name = fmt.Sprintf("stream %d", h.StreamIndex)
		}
		if h.RedundantLeg {
			name += "*"
		}
	}
	return strings.Repeat("  ", h.Depth) + name
}

// shown reports whether a section is drawn; nil shows every section.
type shown func(side model.Side, section int) bool

func visibleSections(headers []core.Header, side model.Side, show shown) []int {
	out := make([]int, 0, len(headers))
	for i := range headers {
		if show == nil || show(side, i) {
			out = append(out, i)
		}
	}
	return out
}

// renderMatrix draws the snapshot in its presented orientation, leaving out
// sections show hides.
func renderMatrix(snap core.Snapshot, glyph func(core.Cell) string, color bool, show shown) string {
	rowsSide, colsSide := snap.Talkers, snap.Listeners
	rowKind, colKind := model.Talker, model.Listener
	corner := "talker \\ listener"
	if snap.Transposed {
		rowsSide, colsSide = snap.Listeners, snap.Talkers
		rowKind, colKind = colKind, rowKind
		corner = "listener \\ talker"
	}
	rowIdx := visibleSections(rowsSide, rowKind, show)
	colIdx := visibleSections(colsSide, colKind, show)

	cells := make(map[[2]int]core.Cell, len(snap.Cells))
	for _, c := range snap.Cells {
		key := [2]int{c.Talker, c.Listener}
		if snap.Transposed {
			key = [2]int{c.Listener, c.Talker}
		}
		cells[key] = c
	}

	headers := make([]string, 0, len(colIdx)+1)
	headers = append(headers, corner)
	for _, c := range colIdx {
		headers = append(headers, strings.TrimSpace(headerLabel(colsSide[c])))
	}

	rows := make([][]string, 0, len(rowIdx))
	for _, r := range rowIdx {
		row := make([]string, 0, len(colIdx)+1)
		row = append(row, headerLabel(rowsSide[r]))
		for _, c := range colIdx {
			if cell, ok := cells[[2]int{r, c}]; ok {
				row = append(row, glyph(cell))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}

	re := lipgloss.NewRenderer(io.Discard)
	if color {
		re.SetColorProfile(termenv.ANSI256)
	} else {
		re.SetColorProfile(termenv.Ascii)
	}
	base := re.NewStyle().Padding(0, 1)
	header := base.Bold(true).Foreground(lipgloss.Color("37"))
	connected := base.Foreground(lipgloss.Color("42"))
	faulty := base.Foreground(lipgloss.Color("203"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col == 0 {
				return header
			}
			if row < 0 || row >= len(rows) || col >= len(rows[row]) {
				return base
			}
			v := rows[row][col]
			switch {
			case strings.ContainsAny(v, "DFX"):
				return faulty
			case strings.HasPrefix(v, "C"):
				return connected
			}
			return base
		})
	return t.Render()
}
