package model

import "sort"

// TrackRecord lists the pools a tracked transaction advanced.
type TrackRecord struct {
	TxID          TxID     `json:"txid"`
	Confirmed     bool     `json:"confirmed"`
	AffectedPools []string `json:"affected_pools"`
}

// SortedPools returns a sorted copy of the affected pool set.
func SortedPools(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for pool := range set {
		out = append(out, pool)
	}
	sort.Strings(out)
	return out
}

// Affects reports whether the record advanced pool.
func (r TrackRecord) Affects(pool string) bool {
	for _, p := range r.AffectedPools {
		if p == pool {
			return true
		}
	}
	return false
}
