package evaluation

// Status describes whether a panel can be displayed with data behind it.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// PanelDetail is the per-panel detection metadata returned by the detection
// endpoint: which model inputs were found and which are absent.
type PanelDetail struct {
	Status        Status   `json:"status"`
	Description   string   `json:"description"`
	PresentInputs []string `json:"present_inputs"`
	MissingInputs []string `json:"missing_inputs"`
}

// Detection is the full detection response for one set of lab values.
type Detection struct {
	AvailablePanels  []string               `json:"available_panels"`
	PanelDetails     map[string]PanelDetail `json:"panel_details"`
	UnsupportedTests []string               `json:"unsupported_tests"`
}

// HistoricalResult attaches the owning run to a stored panel result so the
// dashboard can tell a replayed record from a fresh one.
type HistoricalResult struct {
	PanelResult
	EvaluationID int64 `json:"evaluation_id"`
}

// PanelPresentation is the derived per-panel view state, built from either a
// live evaluation response or a stored record. Never persisted.
type PanelPresentation struct {
	Status        Status            `json:"status"`
	Description   string            `json:"description"`
	PresentInputs []string          `json:"present_inputs"`
	MissingInputs []string          `json:"missing_inputs"`
	Result        *PanelResult      `json:"result,omitempty"`
	Historical    *HistoricalResult `json:"historical_result,omitempty"`
}
