package services

// Policy gathers the tunable constants of the engine. The zero value of any
// section means "use the default".
type Policy struct {
	Thresholds   Thresholds           `yaml:"indicator_thresholds" json:"indicator_thresholds"`
	Risk         RiskBoundaries       `yaml:"risk" json:"risk"`
	CycleLengths map[ContractType]int `yaml:"cycle_lengths" json:"cycle_lengths"`
}

// DefaultPolicy returns the stock thresholds, risk boundaries and cycle
// lengths.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:   DefaultThresholds(),
		Risk:         DefaultRiskBoundaries(),
		CycleLengths: DefaultCycleLengths(),
	}
}

// withDefaults fills unset sections from DefaultPolicy. Cycle lengths are
// merged so a policy can override a single contract type.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Thresholds == (Thresholds{}) {
		p.Thresholds = def.Thresholds
	}
	if p.Risk == (RiskBoundaries{}) {
		p.Risk = def.Risk
	}
	merged := def.CycleLengths
	for ct, weeks := range p.CycleLengths {
		merged[ParseContractType(string(ct))] = weeks
	}
	p.CycleLengths = merged
	return p
}

// Engine wires the five computations together under one policy.
type Engine struct {
	Policy     Policy
	Clock      *CycleClock
	Classifier *ScoreClassifier
	Aggregator *SubmissionAggregator
	Scheduler  *CadenceScheduler
	Risk       *RiskMonitor
}

// NewEngine validates p (after filling defaults) and builds every component.
func NewEngine(p Policy) (*Engine, error) {
	p = p.withDefaults()
	clock, err := NewCycleClock(p.CycleLengths)
	if err != nil {
		return nil, err
	}
	classifier, err := NewScoreClassifier(p.Thresholds)
	if err != nil {
		return nil, err
	}
	monitor, err := NewRiskMonitor(p.Risk)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Policy:     p,
		Clock:      clock,
		Classifier: classifier,
		Aggregator: NewSubmissionAggregator(classifier),
		Scheduler:  NewCadenceScheduler(),
		Risk:       monitor,
	}, nil
}

// MustEngine is NewEngine for the default policy; it panics only if the
// defaults themselves are broken.
func MustEngine() *Engine {
	e, err := NewEngine(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return e
}
