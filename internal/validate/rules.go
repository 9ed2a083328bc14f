package validate

// ScorecardRules are the publication thresholds for the HQO scorecard.
type ScorecardRules struct {
	MinDimension int `yaml:"min_dimension" json:"min_dimension" validate:"min=1"`
	MaxDimension int `yaml:"max_dimension" json:"max_dimension" validate:"gtefield=MinDimension"`
	MinTotal     int `yaml:"min_total" json:"min_total" validate:"min=1"`
	MaxTotal     int `yaml:"max_total" json:"max_total" validate:"gtefield=MinTotal"`
	// MarginalCeiling is the inclusive top of the band [MinTotal, MarginalCeiling]
	// that passes but is flagged for reviewer attention.
	MarginalCeiling int `yaml:"marginal_ceiling" json:"marginal_ceiling" validate:"gtefield=MinTotal"`
	// StrongDimension is only used to pick improvement suggestions.
	StrongDimension int `yaml:"strong_dimension" json:"strong_dimension" validate:"min=1"`
}

// DiagramBudget caps diagram complexity.
type DiagramBudget struct {
	MaxActors    int `yaml:"max_actors" json:"max_actors" validate:"min=1"`
	MaxSteps     int `yaml:"max_steps" json:"max_steps" validate:"min=1"`
	MaxAltBlocks int `yaml:"max_alt_blocks" json:"max_alt_blocks" validate:"min=0"`
}

func DefaultScorecardRules() ScorecardRules {
	return ScorecardRules{
		MinDimension:    3,
		MaxDimension:    5,
		MinTotal:        30,
		MaxTotal:        40,
		MarginalCeiling: 32,
		StrongDimension: 4,
	}
}

func DefaultDiagramBudget() DiagramBudget {
	return DiagramBudget{
		MaxActors:    7,
		MaxSteps:     18,
		MaxAltBlocks: 2,
	}
}

// Rules bundles everything the validators are parameterized by.
type Rules struct {
	Scorecard ScorecardRules `yaml:"scorecard" json:"scorecard"`
	Diagram   DiagramBudget  `yaml:"diagram" json:"diagram"`
}

func DefaultRules() Rules {
	return Rules{Scorecard: DefaultScorecardRules(), Diagram: DefaultDiagramBudget()}
}
