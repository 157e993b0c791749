package coordinator

import (
	"sort"

	"conductor/internal/queue"
)

// ComputeWaves partitions a batch of work items into dispatch waves. Each
// wave is a maximal set of items whose in-batch dependencies land in earlier
// waves and whose target paths are pairwise distinct. Two items sharing a
// path never share a wave; the later one waits until the earlier one's wave
// has fully drained.
//
// A cyclic dependency graph fails with ErrDependencyCycle before any wave is
// formed.
func ComputeWaves(items []*queue.Item) ([][]*queue.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if members := detectCycle(items); members != nil {
		return nil, cycleError(members)
	}

	ordered := append([]*queue.Item(nil), items...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	inBatch := make(map[int64]bool, len(ordered))
	for _, item := range ordered {
		inBatch[item.ID] = true
	}

	assigned := make(map[int64]int, len(ordered))
	var waves [][]*queue.Item
	remaining := len(ordered)
	for remaining > 0 {
		waveIndex := len(waves)
		var wave []*queue.Item
		pathsInWave := make(map[string]bool)
		for _, item := range ordered {
			if _, done := assigned[item.ID]; done {
				continue
			}
			if pathsInWave[item.Path] {
				continue
			}
			ready := true
			for _, dep := range item.DependsOn {
				if !inBatch[dep] {
					continue
				}
				depWave, placed := assigned[dep]
				if !placed || depWave == waveIndex {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			wave = append(wave, item)
			pathsInWave[item.Path] = true
		}
		for _, item := range wave {
			assigned[item.ID] = waveIndex
		}
		waves = append(waves, wave)
		remaining -= len(wave)
	}
	return waves, nil
}
