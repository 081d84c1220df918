package scoring

// Scenario is a hypothetical hospital used to show how shrinkage behaves.
type Scenario struct {
	Name    string `json:"name"`
	Success int    `json:"success"`
	Total   int    `json:"total"`
}

// Outcome is a scored Scenario.
type Outcome struct {
	Scenario
	RawRate    float64 `json:"raw_rate"`
	Score      float64 `json:"bayesian_score"`
	Confidence float64 `json:"confidence"`
}

// DefaultScenarios contrasts a brand-new hospital with small, large and
// struggling ones.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "new hospital", Success: 2, Total: 2},
		{Name: "mid-size hospital", Success: 8, Total: 10},
		{Name: "large hospital", Success: 40, Total: 100},
		{Name: "struggling hospital", Success: 1, Total: 20},
	}
}

// Simulate scores each scenario against globalRate with prior strength m.
func Simulate(globalRate, m float64, scenarios []Scenario) ([]Outcome, error) {
	out := make([]Outcome, 0, len(scenarios))
	for _, sc := range scenarios {
		raw := Rate(sc.Success, sc.Total)
		res, err := Smooth(Input{RawRate: raw, SampleSize: sc.Total, GlobalRate: globalRate}, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Outcome{Scenario: sc, RawRate: raw, Score: res.Score, Confidence: res.Confidence})
	}
	return out, nil
}
