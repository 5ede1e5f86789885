// Package aggregate filters normalized records against the age
// threshold and reduces them to report-ready statistics.
package aggregate

import (
	"sort"

	"github.com/yairfalse/horros/types"
)

// Bucket priorities, monotonically non-decreasing with age.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// AgeBucket is one fixed age range. MaxDays < 0 means unbounded.
type AgeBucket struct {
	Label    string
	Priority string
	MinDays  int
	MaxDays  int
}

// AgeBuckets are the fixed report buckets, youngest first.
var AgeBuckets = []AgeBucket{
	{Label: "0-29 days", Priority: PriorityLow, MinDays: 0, MaxDays: 30},
	{Label: "30-89 days", Priority: PriorityLow, MinDays: 30, MaxDays: 90},
	{Label: "90-179 days", Priority: PriorityMedium, MinDays: 90, MaxDays: 180},
	{Label: "180-364 days", Priority: PriorityHigh, MinDays: 180, MaxDays: 365},
	{Label: "365+ days", Priority: PriorityCritical, MinDays: 365, MaxDays: -1},
}

// BucketFor returns the bucket containing the given age.
func BucketFor(ageDays int) AgeBucket {
	for _, b := range AgeBuckets {
		if ageDays >= b.MinDays && (b.MaxDays < 0 || ageDays < b.MaxDays) {
			return b
		}
	}
	return AgeBuckets[0]
}

// Stats summarizes one filtered record set.
type Stats struct {
	Total        int                         `json:"total"`
	CountByState map[types.InstanceState]int `json:"count_by_state"`
	AvgAgeDays   float64                     `json:"avg_age_days"`
	MaxAgeDays   int                         `json:"max_age_days"`
	TotalDiskGB  int                         `json:"total_disk_gb"`
	ByScope      map[string]int              `json:"by_scope"`
	ByOwner      map[string]int              `json:"by_owner"`
	BySizeClass  map[string]int              `json:"by_size_class"`
	ByAgeBucket  map[string]int              `json:"by_age_bucket"`
}

// Aggregate applies the age threshold under the given basis and
// computes statistics over what passed. Empty input yields empty
// output and zero stats, never an error.
func Aggregate(records []types.InstanceRecord, minAgeDays int, basis types.AgeBasis) ([]types.InstanceRecord, Stats) {
	filtered := Filter(records, minAgeDays, basis)
	return filtered, Compute(filtered, basis)
}

// Filter keeps records whose threshold age under the basis is at
// least minAgeDays. Input order is preserved; the input slice is not
// modified.
func Filter(records []types.InstanceRecord, minAgeDays int, basis types.AgeBasis) []types.InstanceRecord {
	kept := make([]types.InstanceRecord, 0, len(records))
	for _, rec := range records {
		if rec.ThresholdAge(basis) >= minAgeDays {
			kept = append(kept, rec)
		}
	}
	return kept
}

// Compute reduces records to summary statistics. Ages aggregate under
// the same basis used for filtering so counts and percentages line up.
func Compute(records []types.InstanceRecord, basis types.AgeBasis) Stats {
	stats := Stats{
		CountByState: make(map[types.InstanceState]int),
		ByScope:      make(map[string]int),
		ByOwner:      make(map[string]int),
		BySizeClass:  make(map[string]int),
		ByAgeBucket:  make(map[string]int),
	}

	ageSum := 0
	for _, rec := range records {
		age := rec.ThresholdAge(basis)

		stats.Total++
		stats.CountByState[rec.State]++
		stats.TotalDiskGB += rec.TotalDiskGB
		stats.ByScope[rec.Scope]++
		stats.ByOwner[rec.Owner]++
		stats.BySizeClass[rec.SizeClass]++
		stats.ByAgeBucket[BucketFor(age).Label]++

		ageSum += age
		if age > stats.MaxAgeDays {
			stats.MaxAgeDays = age
		}
	}

	if stats.Total > 0 {
		stats.AvgAgeDays = float64(ageSum) / float64(stats.Total)
	}
	return stats
}

// TopN returns the n oldest records under the basis, oldest first,
// ties ordered by name. The input slice is not modified.
func TopN(records []types.InstanceRecord, basis types.AgeBasis, n int) []types.InstanceRecord {
	if n <= 0 || len(records) == 0 {
		return nil
	}

	sorted := make([]types.InstanceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].ThresholdAge(basis), sorted[j].ThresholdAge(basis)
		if ai != aj {
			return ai > aj
		}
		return sorted[i].Name < sorted[j].Name
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// SortedKeys returns breakdown keys ordered by descending count, ties
// by key, for deterministic report sections.
func SortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
