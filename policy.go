/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

package floodpipeline

import (
	"fmt"
	"sort"

	"github.com/ctessum/geom"
)

// AlertMode selects how alert classes are derived from likelihoods.
type AlertMode int

const (
	// AlertOnReturnPeriod compares, per class, the likelihood at a
	// class-specific return period against a single minimum probability.
	AlertOnReturnPeriod AlertMode = iota
	// AlertOnProbability compares the likelihood at a single return period
	// against class-specific minimum probabilities.
	AlertOnProbability
	// AlertDisabled derives the alert class from the trigger state alone.
	AlertDisabled
)

func (m AlertMode) String() string {
	switch m {
	case AlertOnReturnPeriod:
		return "return-period"
	case AlertOnProbability:
		return "probability"
	case AlertDisabled:
		return "disable"
	}
	return fmt.Sprintf("AlertMode(%d)", int(m))
}

// ParseAlertMode converts the configuration representation of an alert
// mode to its enum value.
func ParseAlertMode(s string) (AlertMode, error) {
	switch s {
	case "return-period":
		return AlertOnReturnPeriod, nil
	case "probability":
		return AlertOnProbability, nil
	case "disable":
		return AlertDisabled, nil
	}
	return AlertOnReturnPeriod, fmt.Errorf("%w: unknown alert mode %q", ErrPolicyInvalid, s)
}

// Policy holds the per-country trigger and alert configuration.
type Policy struct {
	TriggerLeadTime int     // days; triggers only fire at lead times up to this
	TriggerRP       float64 // return period that the trigger watches
	TriggerMinProb  float64 // minimum ensemble exceedance probability for a trigger

	AlertMode AlertMode

	// AlertOnReturnPeriod mode: per-class return periods and a shared
	// minimum probability.
	AlertRPByClass map[AlertClass]float64
	AlertMinProb   float64

	// AlertOnProbability mode: a shared return period and per-class
	// minimum probabilities.
	AlertRP          float64
	AlertProbByClass map[AlertClass]float64

	EnsembleMembers int
	MinFloodDepth   float64 // metres; flood-extent pixels below this do not count as flooded
}

// Validate checks the internal consistency of a policy.
func (p *Policy) Validate() error {
	if p.TriggerLeadTime < 1 || p.TriggerLeadTime > MaxLeadTime {
		return fmt.Errorf("%w: trigger lead time %d outside 1..%d",
			ErrPolicyInvalid, p.TriggerLeadTime, MaxLeadTime)
	}
	if p.TriggerRP <= 0 {
		return fmt.Errorf("%w: trigger return period %g must be positive",
			ErrPolicyInvalid, p.TriggerRP)
	}
	if p.TriggerMinProb < 0 || p.TriggerMinProb > 1 {
		return fmt.Errorf("%w: trigger minimum probability %g outside [0,1]",
			ErrPolicyInvalid, p.TriggerMinProb)
	}
	switch p.AlertMode {
	case AlertOnReturnPeriod:
		if len(p.AlertRPByClass) == 0 {
			return fmt.Errorf("%w: return-period mode needs per-class return periods",
				ErrPolicyInvalid)
		}
		if err := validateAlertClasses(p.AlertRPByClass); err != nil {
			return err
		}
		if p.AlertMinProb < 0 || p.AlertMinProb > 1 {
			return fmt.Errorf("%w: alert minimum probability %g outside [0,1]",
				ErrPolicyInvalid, p.AlertMinProb)
		}
	case AlertOnProbability:
		if p.AlertRP <= 0 {
			return fmt.Errorf("%w: probability mode needs a positive alert return period",
				ErrPolicyInvalid)
		}
		if len(p.AlertProbByClass) == 0 {
			return fmt.Errorf("%w: probability mode needs per-class probabilities",
				ErrPolicyInvalid)
		}
		if err := validateAlertClasses(p.AlertProbByClass); err != nil {
			return err
		}
		for c, prob := range p.AlertProbByClass {
			if prob < 0 || prob > 1 {
				return fmt.Errorf("%w: probability %g for class %s outside [0,1]",
					ErrPolicyInvalid, prob, c)
			}
		}
	case AlertDisabled:
		// The trigger settings alone drive the classification.
	default:
		return fmt.Errorf("%w: unknown alert mode %d", ErrPolicyInvalid, int(p.AlertMode))
	}
	if p.EnsembleMembers < 1 {
		return fmt.Errorf("%w: ensemble member count %d must be positive",
			ErrPolicyInvalid, p.EnsembleMembers)
	}
	if p.MinFloodDepth < 0 {
		return fmt.Errorf("%w: minimum flood depth %g must not be negative",
			ErrPolicyInvalid, p.MinFloodDepth)
	}
	return nil
}

func validateAlertClasses(m map[AlertClass]float64) error {
	for c := range m {
		if c < AlertMin || c > AlertMax {
			return fmt.Errorf("%w: alert class %s cannot carry a criterion",
				ErrPolicyInvalid, c)
		}
	}
	return nil
}

// alertClasses returns the classes in m in ascending severity order.
func alertClasses(m map[AlertClass]float64) []AlertClass {
	classes := make([]AlertClass, 0, len(m))
	for c := range m {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Country is the static configuration of one pipeline country.
type Country struct {
	Code      string // ISO3 country code
	AdmLevels []int  // configured admin levels, descending specificity
	BBox      *geom.Bounds
	Stations  bool // whether the country publishes gauge-station data
	Policy    Policy
}

// Validate checks the internal consistency of a country configuration.
func (c *Country) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("%w: country without ISO3 code", ErrConfigMissing)
	}
	if len(c.AdmLevels) == 0 {
		return fmt.Errorf("%w: country %s has no admin levels", ErrConfigMissing, c.Code)
	}
	for _, lvl := range c.AdmLevels {
		if lvl < 1 {
			return fmt.Errorf("%w: country %s has invalid admin level %d",
				ErrPolicyInvalid, c.Code, lvl)
		}
	}
	if c.BBox == nil {
		return fmt.Errorf("%w: country %s has no bounding box", ErrConfigMissing, c.Code)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("country %s: %w", c.Code, err)
	}
	return nil
}

// DeepestAdmLevel returns the largest configured admin level.
func (c *Country) DeepestAdmLevel() int {
	deepest := 0
	for _, lvl := range c.AdmLevels {
		if lvl > deepest {
			deepest = lvl
		}
	}
	return deepest
}
