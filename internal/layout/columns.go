// Package layout assigns side-by-side columns and pixel geometry to a day's appointments.
package layout

import (
	"dayline/internal/overlap"
)

// Column is the horizontal lane of one appointment inside its overlap group.
type Column struct {
	Index     int `json:"column_index"`
	GroupSize int `json:"group_size"`
}

// WidthFraction is the share of the available width given to the column.
func (c Column) WidthFraction() float64 {
	if c.GroupSize <= 1 {
		return 1
	}
	return 1 / float64(c.GroupSize)
}

// Width returns the rendered width for the given available width.
func (c Column) Width(available float64) float64 {
	return available * c.WidthFraction()
}

// Left returns the horizontal offset of the column.
func (c Column) Left(available float64) float64 {
	return float64(c.Index) * c.Width(available)
}

// Columns gives every member of a group its own lane, in (start, id) order.
// The group size is the member count, so all members render at equal width.
func Columns(group []overlap.Interval) map[int64]Column {
	members := append([]overlap.Interval(nil), group...)
	overlap.Sort(members)

	out := make(map[int64]Column, len(members))
	for i, iv := range members {
		out[iv.ID] = Column{Index: i, GroupSize: len(members)}
	}
	return out
}
