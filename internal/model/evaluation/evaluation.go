package evaluation

import "time"

// PanelResult is the scoring outcome for a single panel. It is produced by
// the evaluation service and never mutated locally.
type PanelResult struct {
	Panel          string         `json:"panel"`
	FinalDecision  string         `json:"final_decision"`
	DecisionSource string         `json:"decision_source"`
	Confidence     *float64       `json:"confidence"`
	Severity       string         `json:"severity"`
	Explainability map[string]any `json:"ml_explainability,omitempty"`
	OverrideReason string         `json:"override_reason,omitempty"`
	ModelVersion   string         `json:"model_version,omitempty"`
}

// Run is one stored invocation of one or more panels against a profile's lab
// values. Read-only once created.
type Run struct {
	ID           int64                  `json:"id"`
	ProfileID    int64                  `json:"profile_id"`
	Timestamp    time.Time              `json:"timestamp"`
	PanelsRun    []string               `json:"panels_run"`
	InputPayload map[string]float64     `json:"input_payload"`
	OutputResult map[string]PanelResult `json:"output_result"`
}

// Summary is the compact history listing for a profile.
type Summary struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PanelsRun []string  `json:"panels_run"`
}
