package scheduler

import (
	"sort"

	"github.com/DrSui/code-engine/pkg/models"
)

// GetPriorityWeight returns numeric weight for priority levels
func GetPriorityWeight(priority string) int {
	switch priority {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 2 // Default to medium
	}
}

// GetQueueWeight returns numeric weight for queue types
func GetQueueWeight(queue string) int {
	switch queue {
	case "live":
		return 10
	case "default":
		return 5
	case "batch":
		return 1
	default:
		return 5
	}
}

// Score combines queue and priority into a single claim ranking. The queue
// dominates: any live run outranks any default run regardless of priority.
func Score(run *models.Run) int {
	return GetQueueWeight(run.Queue)*10 + GetPriorityWeight(run.Priority)
}

// SortRunsByPriority orders runs by claim score, FIFO within equal scores
func SortRunsByPriority(runs []*models.Run) []*models.Run {
	if len(runs) == 0 {
		return runs
	}

	sorted := make([]*models.Run, len(runs))
	copy(sorted, runs)

	sort.Slice(sorted, func(i, j int) bool {
		scoreI := Score(sorted[i])
		scoreJ := Score(sorted[j])
		if scoreI != scoreJ {
			return scoreI > scoreJ
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	return sorted
}
