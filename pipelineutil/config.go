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

package pipelineutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ctessum/geom"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/rodekruis/IBF-river-flood-pipeline"
)

// Countries builds the per-country configuration from the "countries"
// section of the configuration file. Each country is keyed by its ISO3
// code and carries the policy keys described in the command help.
func Countries(cfg *viper.Viper) ([]*floodpipeline.Country, error) {
	section := cfg.GetStringMap("countries")
	if len(section) == 0 {
		return nil, fmt.Errorf("%w: no countries configured", floodpipeline.ErrConfigMissing)
	}
	codes := make([]string, 0, len(section))
	for code := range section {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var countries []*floodpipeline.Country
	for _, code := range codes {
		keys, err := cast.ToStringMapE(section[code])
		if err != nil {
			return nil, fmt.Errorf("%w: country %s: %v", floodpipeline.ErrConfigMissing, code, err)
		}
		country, err := parseCountry(strings.ToUpper(code), keys)
		if err != nil {
			return nil, err
		}
		if err := country.Validate(); err != nil {
			return nil, err
		}
		countries = append(countries, country)
	}
	return countries, nil
}

func parseCountry(code string, keys map[string]interface{}) (*floodpipeline.Country, error) {
	c := &floodpipeline.Country{Code: code}

	admLevels, err := cast.ToIntSliceE(keys["admin-levels"])
	if err != nil {
		return nil, fmt.Errorf("%w: country %s: admin-levels: %v",
			floodpipeline.ErrConfigMissing, code, err)
	}
	c.AdmLevels = admLevels

	bbox, err := floatSlice(keys["bounding-box"])
	if err != nil || len(bbox) != 4 {
		return nil, fmt.Errorf("%w: country %s: bounding-box must be [west, south, east, north]",
			floodpipeline.ErrConfigMissing, code)
	}
	c.BBox = &geom.Bounds{
		Min: geom.Point{X: bbox[0], Y: bbox[1]},
		Max: geom.Point{X: bbox[2], Y: bbox[3]},
	}
	c.Stations = cast.ToBool(keys["stations"])

	p := &c.Policy
	p.TriggerLeadTime = cast.ToInt(keys["trigger-on-lead-time"])
	p.TriggerRP = cast.ToFloat64(keys["trigger-on-return-period"])
	p.TriggerMinProb = cast.ToFloat64(keys["trigger-on-minimum-probability"])

	mode, err := floodpipeline.ParseAlertMode(cast.ToString(keys["classify-alert-on"]))
	if err != nil {
		return nil, fmt.Errorf("country %s: %w", code, err)
	}
	p.AlertMode = mode
	switch mode {
	case floodpipeline.AlertOnReturnPeriod:
		rps, err := classMap(keys["alert-on-return-period"])
		if err != nil {
			return nil, fmt.Errorf("country %s: alert-on-return-period: %w", code, err)
		}
		p.AlertRPByClass = rps
		p.AlertMinProb = cast.ToFloat64(keys["alert-on-minimum-probability"])
	case floodpipeline.AlertOnProbability:
		p.AlertRP = cast.ToFloat64(keys["alert-on-return-period"])
		probs, err := classMap(keys["alert-on-minimum-probability"])
		if err != nil {
			return nil, fmt.Errorf("country %s: alert-on-minimum-probability: %w", code, err)
		}
		p.AlertProbByClass = probs
	}

	p.EnsembleMembers = cast.ToInt(keys["no_ensemble_members"])
	p.MinFloodDepth = cast.ToFloat64(keys["minimum_flood_depth"])
	return c, nil
}

// classMap parses a per-alert-class map of numbers, e.g.
// {min: 2, med: 5, max: 20}.
func classMap(v interface{}) (map[floodpipeline.AlertClass]float64, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("%w: expected a map of alert classes to numbers",
			floodpipeline.ErrPolicyInvalid)
	}
	out := make(map[floodpipeline.AlertClass]float64, len(m))
	for name, val := range m {
		class, err := floodpipeline.ParseAlertClass(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", floodpipeline.ErrPolicyInvalid, err)
		}
		out[class] = cast.ToFloat64(val)
	}
	return out, nil
}

func floatSlice(v interface{}) ([]float64, error) {
	raw, err := cast.ToSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, e := range raw {
		f, err := cast.ToFloat64E(e)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
