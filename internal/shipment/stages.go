// Package shipment implements the simulated shipment lifecycle: the stage table,
// the clock that maps elapsed time onto stages, and the manager that issues
// tracking ids.
package shipment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyStageTable  = errors.New("stage table must contain at least one stage")
	ErrNegativeDuration = errors.New("stage duration must not be negative")
	ErrUnnamedStage     = errors.New("stage name must not be empty")
)

// StageTable is the ordered sequence of stages every shipment moves through.
// It is fixed for the life of the process.
type StageTable struct {
	stages []models.StageDefinition
}

// DefaultStageTable returns the standard two-day progression.
func DefaultStageTable() StageTable {
	return StageTable{stages: []models.StageDefinition{
		{Name: "Order Confirmed", Duration: 2 * time.Hour},
		{Name: "Pickup Scheduled", Duration: 6 * time.Hour},
		{Name: "Package Picked Up", Duration: 8 * time.Hour},
		{Name: "In Transit", Duration: 16 * time.Hour},
		{Name: "Out for Delivery", Duration: 12 * time.Hour},
		{Name: "Delivered", Duration: 4 * time.Hour},
	}}
}

// NewStageTable validates defs and returns a table holding a private copy.
func NewStageTable(defs []models.StageDefinition) (StageTable, error) {
	if len(defs) == 0 {
		return StageTable{}, ErrEmptyStageTable
	}
	for i, d := range defs {
		if d.Name == "" {
			return StageTable{}, fmt.Errorf("stage %d: %w", i, ErrUnnamedStage)
		}
		if d.Duration < 0 {
			return StageTable{}, fmt.Errorf("stage %q: %w", d.Name, ErrNegativeDuration)
		}
	}
	stages := make([]models.StageDefinition, len(defs))
	copy(stages, defs)
	return StageTable{stages: stages}, nil
}

type stageFile struct {
	Stages []models.StageDefinition `yaml:"stages"`
}

// LoadStageTable reads a YAML stage table, e.g.
//
//	stages:
//	  - name: Order Confirmed
//	    duration: 2h
func LoadStageTable(path string) (StageTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StageTable{}, fmt.Errorf("failed to read stage table %s: %w", path, err)
	}
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return StageTable{}, fmt.Errorf("failed to parse stage table %s: %w", path, err)
	}
	table, err := NewStageTable(f.Stages)
	if err != nil {
		return StageTable{}, fmt.Errorf("invalid stage table %s: %w", path, err)
	}
	slog.Debug("StageTable loaded", "path", path, "stages", table.Len(), "total", table.TotalDuration())
	return table, nil
}

// Stages returns a copy of the stage definitions in progression order.
func (t StageTable) Stages() []models.StageDefinition {
	out := make([]models.StageDefinition, len(t.stages))
	copy(out, t.stages)
	return out
}

// Len returns the number of stages.
func (t StageTable) Len() int {
	return len(t.stages)
}

// TotalDuration is the advertised delivery window.
func (t StageTable) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range t.stages {
		total += s.Duration
	}
	return total
}
