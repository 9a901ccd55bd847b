package services

// Indicator is the red/yellow/green label derived from a points ratio.
type Indicator string

const (
	IndicatorNone   Indicator = "none"
	IndicatorRed    Indicator = "red"
	IndicatorYellow Indicator = "yellow"
	IndicatorGreen  Indicator = "green"
)

// Default indicator boundaries. A ratio at or above DefaultGreenThreshold is
// green, at or above DefaultYellowThreshold is yellow, anything lower is red.
const (
	DefaultGreenThreshold  = 0.7
	DefaultYellowThreshold = 0.4
)

// Thresholds holds the indicator boundaries. Deployments can override them
// through the policy file.
type Thresholds struct {
	Green  float64 `yaml:"green" json:"green"`
	Yellow float64 `yaml:"yellow" json:"yellow"`
}

// DefaultThresholds returns the stock 0.7 / 0.4 boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Green: DefaultGreenThreshold, Yellow: DefaultYellowThreshold}
}

// Validate requires 0 < yellow <= green <= 1.
func (t Thresholds) Validate() error {
	if t.Yellow <= 0 || t.Yellow > 1 {
		return invalid("thresholds.yellow", "must be in (0, 1], got %v", t.Yellow)
	}
	if t.Green < t.Yellow || t.Green > 1 {
		return invalid("thresholds.green", "must be in [yellow, 1], got %v", t.Green)
	}
	return nil
}

// Classify maps a ratio to an indicator. Every ratio maps to exactly one of
// red, yellow or green.
func (t Thresholds) Classify(ratio float64) Indicator {
	switch {
	case ratio >= t.Green:
		return IndicatorGreen
	case ratio >= t.Yellow:
		return IndicatorYellow
	default:
		return IndicatorRed
	}
}

// ClassifyPercentage is Classify for an optional ratio; nil yields none.
func (t Thresholds) ClassifyPercentage(p *float64) Indicator {
	if p == nil {
		return IndicatorNone
	}
	return t.Classify(*p)
}
