package panel

// Panel describes one risk-assessment model: which biomarkers it consumes and
// which of them gate its availability.
type Panel struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ModelInputs []string `json:"modelInputs"`
	RequiredAll []string `json:"requiredAll,omitempty"`
	RequiredAny []string `json:"requiredAny,omitempty"`
}

// Seed lists the panels the evaluation service currently hosts, mirrored so
// the dashboard can validate requests and label panels without a round trip.
func Seed() []Panel {
	return []Panel{
		{
			Name:        "Diabetes",
			Description: "Diabetes Risk Analysis",
			ModelInputs: []string{"fasting_glucose_level", "HbA1c_level"},
			RequiredAny: []string{"fasting_glucose_level", "HbA1c_level"},
		},
		{
			Name:        "Cardiovascular",
			Description: "Cardiovascular Risk Analysis",
			ModelInputs: []string{"totChol", "hdl", "triglycerides", "sysBP", "diaBP", "age", "sex"},
			RequiredAll: []string{"totChol", "hdl"},
			RequiredAny: []string{"sysBP", "diaBP"},
		},
		{
			Name:        "Kidney",
			Description: "Kidney Function Analysis",
			ModelInputs: []string{"serum_creatinine", "blood_urea", "age"},
			RequiredAny: []string{"serum_creatinine"},
		},
	}
}
