package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// Summarize folds per-slot records into a run summary.
func Summarize(metrics []model.SlotMetrics) model.RunSummary {
	s := model.RunSummary{Slots: len(metrics)}
	if len(metrics) == 0 {
		return s
	}
	domainSum := 0
	for _, m := range metrics {
		s.TotalRemaps += m.Remaps
		s.TotalFlowRules += m.FlowRules
		domainSum += m.Domains
		if m.Domains > s.PeakDomains {
			s.PeakDomains = m.Domains
		}
		if m.Inconsistent {
			s.InconsistentSlots++
		}
	}
	s.MeanDomains = float64(domainSum) / float64(len(metrics))
	return s
}

// metricsArtifact is the JSON document written at the end of a run.
type metricsArtifact struct {
	RunID       string              `json:"run_id"`
	Feed        string              `json:"feed,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
	Summary     model.RunSummary    `json:"summary"`
	Slots       []model.SlotMetrics `json:"slots"`
	RemapEvents []remapEventJSON    `json:"remap_events"`
}

type remapEventJSON struct {
	Slot           int `json:"slot"`
	NodeID         int `json:"node_id"`
	PrevController int `json:"prev_controller"`
	NewController  int `json:"new_controller"`
}

// WriteMetricsFile renders the run's metrics, summary, and remap
// events as an indented JSON artifact at path.
func (r *Runner) WriteMetricsFile(path string) error {
	metrics := r.Metrics()
	events := r.Events()

	artifact := metricsArtifact{
		RunID:       r.RunID(),
		Feed:        r.feedName,
		GeneratedAt: time.Now().UTC(),
		Summary:     Summarize(metrics),
		Slots:       metrics,
		RemapEvents: make([]remapEventJSON, 0, len(events)),
	}
	for _, ev := range events {
		artifact.RemapEvents = append(artifact.RemapEvents, remapEventJSON{
			Slot:           ev.Slot,
			NodeID:         ev.NodeID,
			PrevController: ev.PrevController,
			NewController:  ev.NewController,
		})
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteMetricsFile: encode artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("WriteMetricsFile: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("WriteMetricsFile: %w", err)
	}
	return nil
}
