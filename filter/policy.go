package filter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the sentinel exclusion bounds that are study policy rather
// than derived fact. The breathing and HRV ranges are provisional domain
// choices; they are overridable here instead of hard-coded at the call sites.
type Policy struct {
	BreathingRateMin float64 `yaml:"breathing_rate_min"`
	BreathingRateMax float64 `yaml:"breathing_rate_max"`
	HRVMin           float64 `yaml:"hrv_min"`
	HRVMax           float64 `yaml:"hrv_max"`
}

// DefaultPolicy returns the compiled-in bounds.
func DefaultPolicy() Policy {
	return Policy{
		BreathingRateMin: 0,
		BreathingRateMax: 50,
		HRVMin:           0,
		HRVMax:           200,
	}
}

// LoadPolicy reads overrides from a YAML file on top of the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode policy file: %w", err)
	}
	return p, nil
}
