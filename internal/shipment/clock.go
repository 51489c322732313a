package shipment

import (
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// Resolution is the position of a shipment in the stage table at one instant.
type Resolution struct {
	StageIndex int
	Elapsed    time.Duration
	Stages     []models.StageProgress
}

// Resolve maps a creation time and a current time onto the stage table. It is pure
// and safe for concurrent use. A now before createdAt is treated as zero elapsed.
//
// The current stage is the last one whose start offset is <= elapsed; once elapsed
// reaches the total duration it stays on the final stage.
func Resolve(table StageTable, createdAt, now time.Time) Resolution {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
		now = createdAt
	}

	res := Resolution{
		Elapsed: elapsed,
		Stages:  make([]models.StageProgress, len(table.stages)),
	}

	var offset time.Duration
	for i, stage := range table.stages {
		startedAt := createdAt.Add(offset)
		res.Stages[i] = models.StageProgress{
			Name:      stage.Name,
			StartedAt: startedAt,
			Completed: !now.Before(startedAt.Add(stage.Duration)),
		}
		if offset <= elapsed {
			res.StageIndex = i
		}
		offset += stage.Duration
	}

	if elapsed >= offset && len(table.stages) > 0 {
		res.StageIndex = len(table.stages) - 1
	}
	return res
}

// BuildStatus derives the status view of s at now.
func BuildStatus(table StageTable, s models.Shipment, now time.Time) models.ShipmentStatus {
	res := Resolve(table, s.CreatedAt, now)
	total := table.TotalDuration()

	status := models.ShipmentStatus{
		ShipmentID:            s.ID,
		Kind:                  s.Kind,
		CurrentStageIndex:     res.StageIndex,
		Elapsed:               res.Elapsed,
		ElapsedSeconds:        int64(res.Elapsed / time.Second),
		StageHistory:          res.Stages,
		EstimatedCompletionAt: s.CreatedAt.Add(total),
	}
	if len(res.Stages) > 0 {
		status.CurrentStageName = res.Stages[res.StageIndex].Name
		status.Delivered = res.Stages[len(res.Stages)-1].Completed
	}

	switch {
	case total <= 0 || res.Elapsed >= total:
		status.ProgressPercent = 100
	default:
		status.ProgressPercent = float64(res.Elapsed) / float64(total) * 100
	}
	return status
}
