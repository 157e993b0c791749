package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"conductor/internal/queue"
)

// ErrDependencyCycle marks a dependency graph that can never be scheduled.
// Detection runs before any wave is computed, so a cyclic batch dispatches
// zero items.
var ErrDependencyCycle = errors.New("dependency cycle")

// detectCycle runs a depth-first search over the declared dependency edges.
// Edges pointing outside the batch are ignored; those dependencies were
// satisfied in an earlier phase or run. Returns the paths participating in
// the first cycle found.
func detectCycle(items []*queue.Item) []string {
	byID := make(map[int64]*queue.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	colors := make(map[int64]int, len(items))
	var stack []int64

	var visit func(id int64) []string
	visit = func(id int64) []string {
		colors[id] = grey
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			target, ok := byID[dep]
			if !ok {
				continue
			}
			switch colors[target.ID] {
			case grey:
				// Unwind the stack back to the cycle entry point.
				var members []string
				for i := len(stack) - 1; i >= 0; i-- {
					members = append(members, byID[stack[i]].Path)
					if stack[i] == target.ID {
						break
					}
				}
				sort.Strings(members)
				return members
			case white:
				if members := visit(target.ID); members != nil {
					return members
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if colors[id] == white {
			if members := visit(id); members != nil {
				return members
			}
		}
	}
	return nil
}

func cycleError(members []string) error {
	return fmt.Errorf("%w involving %s", ErrDependencyCycle, strings.Join(members, ", "))
}
