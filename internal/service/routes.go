package service

import (
	"sort"

	"maxrelay/internal/models"
)

// RouteTable holds the static routes configured at startup. It is never
// mutated after construction and is safe for concurrent reads.
type RouteTable struct {
	destinations map[int64][]int64
	sources      []int64
}

func NewRouteTable(routes []models.Route) *RouteTable {
	rt := &RouteTable{destinations: make(map[int64][]int64)}
	seen := make(map[int64]bool)
	for _, r := range routes {
		if !seen[r.MaxChatID] {
			seen[r.MaxChatID] = true
			rt.sources = append(rt.sources, r.MaxChatID)
		}
		if r.TgChatID == nil {
			continue
		}
		if !containsID(rt.destinations[r.MaxChatID], *r.TgChatID) {
			rt.destinations[r.MaxChatID] = append(rt.destinations[r.MaxChatID], *r.TgChatID)
		}
	}
	return rt
}

// Destinations returns the static destinations of a source chat
func (rt *RouteTable) Destinations(sourceChatID int64) []int64 {
	dst := rt.destinations[sourceChatID]
	out := make([]int64, len(dst))
	copy(out, dst)
	return out
}

// SourceIDs lists every configured source chat in configuration order
func (rt *RouteTable) SourceIDs() []int64 {
	out := make([]int64, len(rt.sources))
	copy(out, rt.sources)
	return out
}

// Pairs renders the table for logging
func (rt *RouteTable) Pairs() map[int64][]int64 {
	out := make(map[int64][]int64, len(rt.destinations))
	for src, dst := range rt.destinations {
		sorted := append([]int64(nil), dst...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out[src] = sorted
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
