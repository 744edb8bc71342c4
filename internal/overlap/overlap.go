// Package overlap groups appointments whose time intervals are connected by
// direct or transitive overlap.
package overlap

import (
	"sort"

	"dayline/internal/model"
)

// Interval is a half-open [Start, End) minute range owned by an appointment.
type Interval struct {
	ID    int64
	Start int
	End   int
}

// FromAppointments extracts intervals from appointments.
func FromAppointments(appts []model.Appointment) []Interval {
	out := make([]Interval, len(appts))
	for i, a := range appts {
		out[i] = Interval{ID: a.ID, Start: a.StartMinute, End: a.EndMinute}
	}
	return out
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Sort orders intervals by start, then by id.
func Sort(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].ID < intervals[j].ID
	})
}

// Group partitions intervals into the connected components of the overlap graph.
// Members of each group are ordered by (start, id) and groups by their first member.
// An id that appears more than once is kept only at its first occurrence in that order.
func Group(intervals []Interval) [][]Interval {
	sorted := dedupe(intervals)
	if len(sorted) == 0 {
		return nil
	}

	uf := newUnionFind(len(sorted))
	for i := range sorted {
		// Sorted by start: once a later interval starts at or after our end,
		// no interval after it can overlap us either.
		for j := i + 1; j < len(sorted) && sorted[j].Start < sorted[i].End; j++ {
			if Overlaps(sorted[i], sorted[j]) {
				uf.union(i, j)
			}
		}
	}

	index := make(map[int]int)
	var groups [][]Interval
	for i, iv := range sorted {
		root := uf.find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], iv)
	}
	return groups
}

// GroupIDs is Group reduced to appointment ids.
func GroupIDs(intervals []Interval) [][]int64 {
	groups := Group(intervals)
	out := make([][]int64, len(groups))
	for i, g := range groups {
		ids := make([]int64, len(g))
		for j, iv := range g {
			ids[j] = iv.ID
		}
		out[i] = ids
	}
	return out
}

func dedupe(intervals []Interval) []Interval {
	sorted := append([]Interval(nil), intervals...)
	Sort(sorted)

	seen := make(map[int64]struct{}, len(sorted))
	out := sorted[:0]
	for _, iv := range sorted {
		if _, ok := seen[iv.ID]; ok {
			continue
		}
		seen[iv.ID] = struct{}{}
		out = append(out, iv)
	}
	return out
}

type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
