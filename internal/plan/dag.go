package plan

import (
	"fmt"
	"strings"

	"github.com/quayline/orchestrator/internal/models"
)

// TopologicalOrder returns the sub-task ids of p in an order where every task
// appears after all of its dependencies (Kahn's algorithm). A cycle yields
// ErrCyclicPlan with the offending ids in the message.
func TopologicalOrder(subtasks []models.SubTask) ([]string, error) {
	if len(subtasks) == 0 {
		return []string{}, nil
	}

	inDegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string, len(subtasks))
	known := make(map[string]bool, len(subtasks))

	for _, st := range subtasks {
		known[st.ID] = true
		if _, ok := inDegree[st.ID]; !ok {
			inDegree[st.ID] = 0
		}
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if dep == st.ID {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCyclicPlan, st.ID)
			}
			if !known[dep] {
				return nil, fmt.Errorf("sub-task %s depends on unknown task %s", st.ID, dep)
			}
			dependents[dep] = append(dependents[dep], st.ID)
			inDegree[st.ID]++
		}
	}

	// Seed with roots in plan order to keep the result deterministic.
	var queue []string
	for _, st := range subtasks {
		if inDegree[st.ID] == 0 {
			queue = append(queue, st.ID)
		}
	}

	order := make([]string, 0, len(subtasks))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(subtasks) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, fmt.Errorf("%w: involving %s", ErrCyclicPlan, strings.Join(stuck, ", "))
	}
	return order, nil
}

// Waves groups a topological order into execution waves: every task in wave N
// depends only on tasks in waves < N, so one wave can run concurrently.
func Waves(subtasks []models.SubTask) ([][]models.SubTask, error) {
	if _, err := TopologicalOrder(subtasks); err != nil {
		return nil, err
	}

	byID := make(map[string]models.SubTask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	depth := make(map[string]int, len(subtasks))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range byID[id].DependsOn {
			if dd := depthOf(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, st := range subtasks {
		if d := depthOf(st.ID); d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]models.SubTask, maxDepth+1)
	for _, st := range subtasks {
		d := depth[st.ID]
		waves[d] = append(waves[d], st)
	}
	return waves, nil
}
