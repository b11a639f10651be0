// Package registry maps conclusion ids to the number of landings required
// before the matching achievement unlocks.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults is the built-in conclusion catalog. Conclusions missing from the
// map unlock on the first landing.
var Defaults = map[string]int{
	"waterfall": 3,
	"rainbow":   2,
	"volcano":   5,
	"eclipse":   4,
	"comet":     3,
	"tornado":   2,
}

type Registry struct {
	required map[string]int
}

// New builds a registry from the built-in defaults.
func New() *Registry {
	return NewWithThresholds(Defaults)
}

// NewWithThresholds builds a registry from an explicit threshold map.
func NewWithThresholds(thresholds map[string]int) *Registry {
	required := make(map[string]int, len(thresholds))
	for id, count := range thresholds {
		required[id] = count
	}
	return &Registry{required: required}
}

// Load reads a JSON object of conclusion id to required landings from path.
// An empty path returns the defaults.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(), nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds file: %w", err)
	}
	var thresholds map[string]int
	if err := json.Unmarshal(contents, &thresholds); err != nil {
		return nil, fmt.Errorf("parse thresholds file: %w", err)
	}
	return NewWithThresholds(thresholds), nil
}

// Threshold returns the required landings for a conclusion id. Unknown ids
// and non-positive configured values fall back to 1.
func (r *Registry) Threshold(conclusionID string) int {
	required, ok := r.required[conclusionID]
	if !ok || required <= 0 {
		return 1
	}
	return required
}

// Known reports whether the conclusion id has an explicit threshold.
func (r *Registry) Known(conclusionID string) bool {
	_, ok := r.required[conclusionID]
	return ok
}
