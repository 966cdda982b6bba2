// Package reconcile derives UI-ready panel presentation state from either a
// live evaluation response or a stored historical record. Everything here is
// pure: identical input yields identical output and nothing errors.
package reconcile

import (
	"sort"

	"github.com/clinsight/backend/internal/model/evaluation"
	"github.com/clinsight/backend/internal/model/panel"
)

// Mode selects which half of a Source is meaningful.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// Source pairs an evaluation run with its provenance. Live runs carry the
// detection metadata that gated them; historical records do not retain it.
type Source struct {
	Mode      Mode
	Run       evaluation.Run
	Detection evaluation.Detection
}

// Live builds a Source for a freshly computed evaluation.
func Live(run evaluation.Run, detection evaluation.Detection) Source {
	return Source{Mode: ModeLive, Run: run, Detection: detection}
}

// Historical builds a Source for a stored record.
func Historical(run evaluation.Run) Source {
	return Source{Mode: ModeHistorical, Run: run}
}

// Reconcile merges the source into one presentation per panel.
//
// In live mode availability, description and input coverage come from the
// detection metadata; a result is attached only for panels the run actually
// produced. In historical mode every panel in PanelsRun is presented as
// available with the full input payload as present inputs, since the original
// detection context is not stored alongside the record.
func Reconcile(src Source) map[string]evaluation.PanelPresentation {
	if src.Mode == ModeHistorical {
		return reconcileHistorical(src.Run)
	}
	return reconcileLive(src.Run, src.Detection)
}

func reconcileLive(run evaluation.Run, det evaluation.Detection) map[string]evaluation.PanelPresentation {
	out := make(map[string]evaluation.PanelPresentation, len(det.PanelDetails))

	for name, detail := range det.PanelDetails {
		pres := evaluation.PanelPresentation{
			Status:        detail.Status,
			Description:   detail.Description,
			PresentInputs: append([]string(nil), detail.PresentInputs...),
			MissingInputs: append([]string(nil), detail.MissingInputs...),
		}
		if pres.Status == evaluation.StatusAvailable {
			if result, ok := run.OutputResult[name]; ok {
				copied := result
				pres.Result = &copied
			}
		}
		out[name] = pres
	}

	// Panels the run produced without a detection entry still get a slot so a
	// result never vanishes from the report.
	for _, name := range run.PanelsRun {
		if _, ok := out[name]; ok {
			continue
		}
		pres := evaluation.PanelPresentation{
			Status:        evaluation.StatusAvailable,
			Description:   panel.Describe(name),
			PresentInputs: payloadKeys(run.InputPayload),
			MissingInputs: []string{},
		}
		if result, ok := run.OutputResult[name]; ok {
			copied := result
			pres.Result = &copied
		}
		out[name] = pres
	}

	return out
}

func reconcileHistorical(run evaluation.Run) map[string]evaluation.PanelPresentation {
	out := make(map[string]evaluation.PanelPresentation, len(run.PanelsRun))
	present := payloadKeys(run.InputPayload)

	for _, name := range run.PanelsRun {
		pres := evaluation.PanelPresentation{
			Status:        evaluation.StatusAvailable,
			Description:   panel.Describe(name),
			PresentInputs: append([]string(nil), present...),
			MissingInputs: []string{},
		}
		// A panel recorded in PanelsRun without a stored result means the
		// original run partially failed; it stays available with no result
		// attached.
		if result, ok := run.OutputResult[name]; ok {
			copied := result
			pres.Result = &copied
			pres.Historical = &evaluation.HistoricalResult{
				PanelResult:  copied,
				EvaluationID: run.ID,
			}
		}
		out[name] = pres
	}

	return out
}

func payloadKeys(payload map[string]float64) []string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
