package peersync

import (
	"sort"

	"github.com/shardcore/updatecore/internal/peertransport"
)

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// sortedDesc returns a copy of versions sorted by |v| descending, the
// ordering spec.md §4.D assumes throughout (newest first).
func sortedDesc(versions []int64) []int64 {
	out := append([]int64(nil), versions...)
	sort.Slice(out, func(i, j int) bool { return abs64(out[i]) > abs64(out[j]) })
	return out
}

// percentileAt returns the value at position p (0..1) into a desc-sorted
// list, where p=0 is the newest element and p=1 the oldest.
func percentileAt(desc []int64, p float64) int64 {
	if len(desc) == 0 {
		return 0
	}
	idx := int(p * float64(len(desc)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(desc) {
		idx = len(desc) - 1
	}
	return desc[idx]
}

// computeThresholds derives the low/high version-window thresholds and the
// newest ("highest") version from a desc-sorted version list (spec.md §4.D
// step 3): low is the 80th percentile (older region), high is the 20th
// percentile (newer region).
func computeThresholds(desc []int64) (low, high, highest int64) {
	low = percentileAt(desc, 0.8)
	high = percentileAt(desc, 0.2)
	highest = desc[0]
	return
}

func maxAbs(versions []int64) int64 {
	var max int64
	for _, v := range versions {
		if a := abs64(v); a > max {
			max = a
		}
	}
	return max
}

func toSet(versions []int64) map[int64]bool {
	set := make(map[int64]bool, len(versions))
	for _, v := range versions {
		set[abs64(v)] = true
	}
	return set
}

// mergeOlderStartingVersions folds startingVersions older than ourOldest
// into ourDesc and re-sorts, implementing the "merge starting versions
// older than our oldest new update" step of spec.md §4.D step 5.
func mergeOlderStartingVersions(ourDesc, startingVersions []int64, ourOldest int64) []int64 {
	merged := append([]int64(nil), ourDesc...)
	for _, v := range startingVersions {
		if abs64(v) < abs64(ourOldest) {
			merged = append(merged, v)
		}
	}
	return sortedDesc(merged)
}

// buildRangeSpec walks both desc-sorted lists from the oldest end, as
// described in spec.md §4.D "Range mode selection", producing a set of
// version ranges to request from the peer. ok is false if the request
// would exceed maxUpdates. completeList suppresses the low-threshold
// early-stop when the peer's version list is known to be its entire
// history (fewer entries than requested), so a short peer history below
// ourLowThreshold is still walked instead of being silently skipped.
func buildRangeSpec(peerDesc []int64, ourSet map[int64]bool, ourLowThreshold int64, maxUpdates int, completeList bool) (peertransport.UpdatesSpec, bool) {
	var ranges []peertransport.VersionRange
	total := 0

	i := len(peerDesc) - 1 // walk from the oldest end
	for i >= 0 {
		pv := peerDesc[i]
		if !completeList && abs64(pv) < abs64(ourLowThreshold) {
			break
		}
		if ourSet[abs64(pv)] {
			i--
			continue
		}

		lo := pv
		hi := pv
		count := 1
		i--
		for i >= 0 {
			next := peerDesc[i]
			if ourSet[abs64(next)] || (!completeList && abs64(next) < abs64(ourLowThreshold)) {
				break
			}
			hi = next
			count++
			i--
		}
		ranges = append(ranges, peertransport.VersionRange{Lo: lo, Hi: hi})
		total += count
	}

	if total > maxUpdates && maxUpdates > 0 {
		return peertransport.UpdatesSpec{}, false
	}
	return peertransport.UpdatesSpec{Ranges: ranges}, true
}

// buildIndividualSpec collects peer versions above ourLowThreshold that we
// don't already have, spec.md §4.D "Individual mode". completeList has the
// same meaning as in buildRangeSpec.
func buildIndividualSpec(peerDesc []int64, ourSet map[int64]bool, ourLowThreshold int64, maxUpdates int, completeList bool) (peertransport.UpdatesSpec, bool) {
	var versions []int64
	seen := make(map[int64]bool)

	for _, pv := range peerDesc {
		if !completeList && abs64(pv) < abs64(ourLowThreshold) {
			continue
		}
		if ourSet[abs64(pv)] || seen[abs64(pv)] {
			continue
		}
		seen[abs64(pv)] = true
		versions = append(versions, pv)
	}

	if maxUpdates > 0 && len(versions) > maxUpdates {
		return peertransport.UpdatesSpec{}, false
	}
	return peertransport.UpdatesSpec{Versions: versions}, true
}
