package client

import "fmt"

// RenderSummary produces a minimal text summary of a reassembled snapshot:
// grid dimensions, obstacle count, and the grid-wide average step count and
// success probability across cells with at least one trial. It is not a
// grid/radial renderer, just enough to verify a snapshot round-tripped.
func RenderSummary(s Snapshot) string {
	obstacleCount := 0
	for _, v := range s.Obstacles {
		if v {
			obstacleCount++
		}
	}

	var cellsWithTrials int
	var totalTrials uint64
	var totalSumSteps uint64
	var totalSuccess uint64
	for i := range s.Trials {
		if s.Trials[i] == 0 {
			continue
		}
		cellsWithTrials++
		totalTrials += uint64(s.Trials[i])
		if i < len(s.SumSteps) {
			totalSumSteps += s.SumSteps[i]
		}
		if i < len(s.SuccessLEQK) {
			totalSuccess += uint64(s.SuccessLEQK[i])
		}
	}

	avgSteps := 0.0
	successProb := 0.0
	if totalTrials > 0 {
		avgSteps = float64(totalSumSteps) / float64(totalTrials)
		successProb = float64(totalSuccess) / float64(totalTrials)
	}

	return fmt.Sprintf(
		"snapshot %d: %dx%d grid, %d obstacles, %d/%d cells with trials, avg steps %.2f, success prob %.3f",
		s.SnapshotID, s.Size.Width, s.Size.Height, obstacleCount,
		cellsWithTrials, s.CellCount, avgSteps, successProb)
}
