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
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// AdminThreshold holds the return-period thresholds of one administrative
// area.
type AdminThreshold struct {
	AdmLevel   int         `json:"adm_level"`
	Pcode      string      `json:"pcode"`
	Thresholds []Threshold `json:"thresholds"`
}

// StationThreshold holds the return-period thresholds of one gauge
// station, together with the administrative areas it drains.
type StationThreshold struct {
	StationCode string           `json:"station_code"`
	StationName string           `json:"station_name"`
	Lat         float64          `json:"lat"`
	Lon         float64          `json:"lon"`
	Pcodes      map[int][]string `json:"pcodes"`
	Thresholds  []Threshold      `json:"thresholds"`
}

// ThresholdLookup returns the threshold value for the given return period
// from a sorted threshold series. It fails with ErrThresholdMissing when
// the return period is not present.
func ThresholdLookup(thresholds []Threshold, rp float64) (float64, error) {
	for _, t := range thresholds {
		if t.ReturnPeriod == rp {
			return t.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: return period %g not in thresholds", ErrThresholdMissing, rp)
}

// validateThresholds sorts thresholds ascending by return period and
// rejects duplicate return periods and non-monotone threshold values
// (a larger return period must carry a larger discharge).
func validateThresholds(thresholds []Threshold) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("%w: empty threshold series", ErrThresholdMissing)
	}
	sorted := make([]Threshold, len(thresholds))
	copy(sorted, thresholds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReturnPeriod < sorted[j].ReturnPeriod })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ReturnPeriod == sorted[i-1].ReturnPeriod {
			return nil, fmt.Errorf("floodpipeline: duplicate return period %g in thresholds",
				sorted[i].ReturnPeriod)
		}
		if sorted[i].Value <= sorted[i-1].Value {
			return nil, fmt.Errorf("floodpipeline: threshold for return period %g (%g) is not "+
				"larger than threshold for return period %g (%g)",
				sorted[i].ReturnPeriod, sorted[i].Value, sorted[i-1].ReturnPeriod, sorted[i-1].Value)
		}
	}
	return sorted, nil
}

// adminThresholdKey identifies an admin threshold record. Pcodes are
// only unique within an admin level.
type adminThresholdKey struct {
	admLevel int
	pcode    string
}

// ThresholdStore holds the durable per-country thresholds for one run.
// It is read-only after loading.
type ThresholdStore struct {
	Country  string
	admin    map[adminThresholdKey]*AdminThreshold
	stations map[string]*StationThreshold
}

// LoadThresholds reads the admin and station threshold JSON documents for
// a country. boundaries, if non-nil, is used to validate station
// back-references: every pcode a station lists must exist in the loaded
// boundaries.
func LoadThresholds(country string, adminJSON, stationJSON io.Reader, boundaries *AdminBoundaries) (*ThresholdStore, error) {
	s := &ThresholdStore{
		Country:  country,
		admin:    make(map[adminThresholdKey]*AdminThreshold),
		stations: make(map[string]*StationThreshold),
	}

	var admin []*AdminThreshold
	if err := json.NewDecoder(adminJSON).Decode(&admin); err != nil {
		return nil, fmt.Errorf("floodpipeline: decoding admin thresholds for %s: %v", country, err)
	}
	for _, a := range admin {
		sorted, err := validateThresholds(a.Thresholds)
		if err != nil {
			return nil, fmt.Errorf("pcode %s: %w", a.Pcode, err)
		}
		a.Thresholds = sorted
		s.admin[adminThresholdKey{a.AdmLevel, a.Pcode}] = a
	}

	var stations []*StationThreshold
	if err := json.NewDecoder(stationJSON).Decode(&stations); err != nil {
		return nil, fmt.Errorf("floodpipeline: decoding station thresholds for %s: %v", country, err)
	}
	for _, st := range stations {
		sorted, err := validateThresholds(st.Thresholds)
		if err != nil {
			return nil, fmt.Errorf("station %s: %w", st.StationCode, err)
		}
		st.Thresholds = sorted
		if boundaries != nil {
			for lvl, pcodes := range st.Pcodes {
				for _, pcode := range pcodes {
					if !boundaries.Has(lvl, pcode) {
						return nil, fmt.Errorf("floodpipeline: station %s references pcode %s "+
							"at admin level %d which is not in the loaded boundaries",
							st.StationCode, pcode, lvl)
					}
				}
			}
		}
		s.stations[st.StationCode] = st
	}
	return s, nil
}

// Admin returns the thresholds for the given admin level and pcode, or
// nil if absent.
func (s *ThresholdStore) Admin(admLevel int, pcode string) *AdminThreshold {
	return s.admin[adminThresholdKey{admLevel, pcode}]
}

// Station returns the thresholds for the given station code, or nil if
// absent.
func (s *ThresholdStore) Station(code string) *StationThreshold {
	return s.stations[code]
}

// Stations returns all station thresholds, ordered by station code.
func (s *ThresholdStore) Stations() []*StationThreshold {
	codes := make([]string, 0, len(s.stations))
	for c := range s.stations {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	out := make([]*StationThreshold, len(codes))
	for i, c := range codes {
		out[i] = s.stations[c]
	}
	return out
}

// AdminPcodes returns the pcodes at the given admin level that carry
// thresholds, sorted.
func (s *ThresholdStore) AdminPcodes(admLevel int) []string {
	var pcodes []string
	for k := range s.admin {
		if k.admLevel == admLevel {
			pcodes = append(pcodes, k.pcode)
		}
	}
	sort.Strings(pcodes)
	return pcodes
}
