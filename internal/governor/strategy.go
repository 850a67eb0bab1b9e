package governor

import "fmt"

// TargetClass selects how aggressively summaries condense their
// source run, expressed as a token-size band for the synthetic
// message.
type TargetClass int

const (
	ClassAggressive TargetClass = iota
	ClassBalanced
	ClassConservative
)

// Band returns the summary token band for the class.
func (c TargetClass) Band() (min, max int) {
	switch c {
	case ClassAggressive:
		return 50, 100
	case ClassConservative:
		return 300, 500
	default:
		return 100, 300
	}
}

func (c TargetClass) String() string {
	switch c {
	case ClassAggressive:
		return "aggressive"
	case ClassConservative:
		return "conservative"
	default:
		return "balanced"
	}
}

// ParseTargetClass converts a configured class name.
func ParseTargetClass(name string) (TargetClass, error) {
	switch name {
	case "aggressive":
		return ClassAggressive, nil
	case "balanced":
		return ClassBalanced, nil
	case "conservative":
		return ClassConservative, nil
	default:
		return 0, &ConfigurationError{Field: "target_class", Reason: fmt.Sprintf("unknown class %q", name)}
	}
}

// Strategy is an immutable value describing one context-management
// policy. Strategies are selected by name from a registry built at
// startup and never mutated in place.
type Strategy struct {
	Name             string      `json:"name"`
	ThresholdPercent float64     `json:"threshold_percent"` // 0 < x <= 1
	PreserveRecent   int         `json:"preserve_recent"`   // >= 0
	TargetClass      TargetClass `json:"target_class"`
	CacheCutoffTurns int         `json:"cache_cutoff_turns"`
}

// Validate rejects malformed strategy values at construction time.
func (s Strategy) Validate() error {
	if s.Name == "" {
		return &ConfigurationError{Field: "strategy.name", Reason: "must not be empty"}
	}
	if s.ThresholdPercent <= 0 || s.ThresholdPercent > 1 {
		return &ConfigurationError{Field: "strategy.threshold_percent", Reason: fmt.Sprintf("%v outside (0, 1]", s.ThresholdPercent)}
	}
	if s.PreserveRecent < 0 {
		return &ConfigurationError{Field: "strategy.preserve_recent", Reason: "must be >= 0"}
	}
	if s.CacheCutoffTurns < 0 {
		return &ConfigurationError{Field: "strategy.cache_cutoff_turns", Reason: "must be >= 0"}
	}
	return nil
}

// Built-in strategies.
var (
	StrategyAggressive = Strategy{
		Name:             "aggressive",
		ThresholdPercent: 0.5,
		PreserveRecent:   5,
		TargetClass:      ClassAggressive,
		CacheCutoffTurns: 2,
	}
	StrategyBalanced = Strategy{
		Name:             "balanced",
		ThresholdPercent: 0.7,
		PreserveRecent:   10,
		TargetClass:      ClassBalanced,
		CacheCutoffTurns: 4,
	}
	StrategyConservative = Strategy{
		Name:             "conservative",
		ThresholdPercent: 0.85,
		PreserveRecent:   20,
		TargetClass:      ClassConservative,
		CacheCutoffTurns: 6,
	}
)

// StrategyRegistry maps names to immutable strategy values. Built
// once at startup; lookups after that are read-only.
type StrategyRegistry struct {
	strategies map[string]Strategy
	def        string
}

// NewStrategyRegistry creates a registry seeded with the built-in
// strategies and "balanced" as the default.
func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{
		strategies: make(map[string]Strategy),
		def:        StrategyBalanced.Name,
	}
	for _, s := range []Strategy{StrategyAggressive, StrategyBalanced, StrategyConservative} {
		r.strategies[s.Name] = s
	}
	return r
}

// Register adds or replaces a named strategy. Invalid values are a
// ConfigurationError.
func (r *StrategyRegistry) Register(s Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.strategies[s.Name] = s
	return nil
}

// SetDefault selects the strategy used when callers name none.
func (r *StrategyRegistry) SetDefault(name string) error {
	if _, ok := r.strategies[name]; !ok {
		return &ConfigurationError{Field: "default_strategy", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
	r.def = name
	return nil
}

// Get looks up a strategy by name; an empty name selects the default.
func (r *StrategyRegistry) Get(name string) (Strategy, error) {
	if name == "" {
		name = r.def
	}
	s, ok := r.strategies[name]
	if !ok {
		return Strategy{}, &ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
	return s, nil
}

// List returns all registered strategies.
func (r *StrategyRegistry) List() []Strategy {
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}
