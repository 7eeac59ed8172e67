package attach

import (
	"errors"
	"fmt"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
)

// ErrNoEligiblePartition indicates no candidate passed the attach
// filter. Transient: the caller retries with backoff.
var ErrNoEligiblePartition = errors.New("no eligible partition")

// Select picks the attach target from one scan cycle's results.
// current is the node's partition, or nil while detached; filters that
// compare against the current partition accept everything when it is
// nil. The returned result is a copy; the input slice is not retained.
func Select(filter mesh.AttachFilter, current *mesh.Partition, results []scan.Result) (scan.Result, error) {
	if !filter.Valid() {
		return scan.Result{}, fmt.Errorf("%w: attach filter %d", mesh.ErrInvalidArgs, uint8(filter))
	}

	var best scan.Result
	found := false
	for _, candidate := range results {
		if !accepts(filter, current, candidate.Partition) {
			continue
		}
		if !found || better(candidate, best) {
			best = candidate
			found = true
		}
	}
	if !found {
		return scan.Result{}, ErrNoEligiblePartition
	}
	return best, nil
}

// accepts applies the filter policy to one candidate partition.
func accepts(filter mesh.AttachFilter, current *mesh.Partition, candidate mesh.Partition) bool {
	if current == nil {
		return true
	}
	switch filter {
	case mesh.AttachSamePartition:
		return candidate.ID == current.ID
	case mesh.AttachBetterPartition:
		return candidate.Better(*current)
	default:
		return true
	}
}

// better ranks candidates: joinable, then weight, then partition ID,
// then RSSI. Extended address breaks exact ties so selection is
// deterministic for a given result set.
func better(a, b scan.Result) bool {
	if a.Joinable != b.Joinable {
		return a.Joinable
	}
	if a.Partition.Weight != b.Partition.Weight {
		return a.Partition.Weight > b.Partition.Weight
	}
	if a.Partition.ID != b.Partition.ID {
		return a.Partition.ID > b.Partition.ID
	}
	if a.RSSI != b.RSSI {
		return a.RSSI > b.RSSI
	}
	return a.ExtAddress.Compare(b.ExtAddress) > 0
}
