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
	"time"

	"gonum.org/v1/gonum/floats"
)

// MaxLeadTime is the forecast horizon in days.
const MaxLeadTime = 7

// AlertClass is the qualitative severity of a flood forecast. Classes are
// totally ordered: AlertNone < AlertMin < AlertMed < AlertMax.
type AlertClass int

const (
	AlertNone AlertClass = iota
	AlertMin
	AlertMed
	AlertMax
)

func (c AlertClass) String() string {
	switch c {
	case AlertNone:
		return "no"
	case AlertMin:
		return "min"
	case AlertMed:
		return "med"
	case AlertMax:
		return "max"
	}
	return fmt.Sprintf("AlertClass(%d)", int(c))
}

// ParseAlertClass converts the wire representation of an alert class to its
// enum value. Unknown values are rejected.
func ParseAlertClass(s string) (AlertClass, error) {
	switch s {
	case "no":
		return AlertNone, nil
	case "min":
		return AlertMin, nil
	case "med":
		return AlertMed, nil
	case "max":
		return AlertMax, nil
	}
	return AlertNone, fmt.Errorf("floodpipeline: invalid alert class %q", s)
}

// Threshold is a river discharge value associated with a return period.
type Threshold struct {
	ReturnPeriod float64 `json:"return_period"`
	Value        float64 `json:"threshold_value"`
}

// Forecast is the likelihood that the discharge ensemble exceeds the
// threshold for one return period.
type Forecast struct {
	ReturnPeriod float64
	Likelihood   float64 // fraction of ensemble members above the threshold, [0, 1]
}

// DischargeAdmin holds the discharge ensemble for one administrative area
// and lead time.
type DischargeAdmin struct {
	AdmLevel int
	Pcode    string
	LeadTime int
	Ensemble []float64
	Mean     float64
}

// DischargeStation holds the discharge ensemble for one gauge station and
// lead time.
type DischargeStation struct {
	StationCode string
	StationName string
	Lat, Lon    float64
	Pcodes      map[int][]string // admin level -> pcodes drained by this station
	LeadTime    int
	Ensemble    []float64
	Mean        float64
}

// EnsembleMean is the arithmetic mean of an ensemble, or 0 for an empty
// ensemble.
func EnsembleMean(ensemble []float64) float64 {
	if len(ensemble) == 0 {
		return 0
	}
	return floats.Sum(ensemble) / float64(len(ensemble))
}

// ForecastAdmin is the flood forecast for one administrative area and lead
// time.
type ForecastAdmin struct {
	AdmLevel       int
	Pcode          string
	LeadTime       int
	Forecasts      []Forecast // ordered by return period, ascending
	Triggered      bool
	ReturnPeriod   float64 // largest return period reached with sufficient probability, 0 if none
	AlertClass     AlertClass
	PopAffected    int
	PopAffectedPct float64 // [0, 100]
}

// ForecastStation is the flood forecast for one gauge station and lead
// time.
type ForecastStation struct {
	StationCode  string
	StationName  string
	Lat, Lon     float64
	Pcodes       map[int][]string
	LeadTime     int
	Forecasts    []Forecast
	Triggered    bool
	ReturnPeriod float64
	AlertClass   AlertClass
}

type adminKey struct {
	pcode    string
	leadTime int
}

type stationKey struct {
	stationCode string
	leadTime    int
}

// DischargeAdminDataset holds the discharge data units of one country run,
// keyed by (pcode, lead time).
type DischargeAdminDataset struct {
	Country   string
	Timestamp time.Time
	AdmLevels []int
	units     map[adminKey]*DischargeAdmin
}

// NewDischargeAdminDataset creates an empty admin discharge dataset.
func NewDischargeAdminDataset(country string, timestamp time.Time, admLevels []int) *DischargeAdminDataset {
	return &DischargeAdminDataset{
		Country:   country,
		Timestamp: timestamp,
		AdmLevels: admLevels,
		units:     make(map[adminKey]*DischargeAdmin),
	}
}

// Upsert inserts u, replacing any existing unit with the same
// (pcode, lead time).
func (d *DischargeAdminDataset) Upsert(u *DischargeAdmin) {
	d.units[adminKey{u.Pcode, u.LeadTime}] = u
}

// Get returns the unit for (pcode, leadTime), or nil if absent.
func (d *DischargeAdminDataset) Get(pcode string, leadTime int) *DischargeAdmin {
	return d.units[adminKey{pcode, leadTime}]
}

// Units returns all units ordered by pcode then lead time, so that
// iteration order does not change between program runs.
func (d *DischargeAdminDataset) Units() []*DischargeAdmin {
	keys := make([]adminKey, 0, len(d.units))
	for k := range d.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pcode != keys[j].pcode {
			return keys[i].pcode < keys[j].pcode
		}
		return keys[i].leadTime < keys[j].leadTime
	})
	out := make([]*DischargeAdmin, len(keys))
	for i, k := range keys {
		out[i] = d.units[k]
	}
	return out
}

// DischargeStationDataset holds the discharge data units of one country
// run, keyed by (station code, lead time).
type DischargeStationDataset struct {
	Country   string
	Timestamp time.Time
	units     map[stationKey]*DischargeStation
}

// NewDischargeStationDataset creates an empty station discharge dataset.
func NewDischargeStationDataset(country string, timestamp time.Time) *DischargeStationDataset {
	return &DischargeStationDataset{
		Country:   country,
		Timestamp: timestamp,
		units:     make(map[stationKey]*DischargeStation),
	}
}

// Upsert inserts u, replacing any existing unit with the same
// (station code, lead time).
func (d *DischargeStationDataset) Upsert(u *DischargeStation) {
	d.units[stationKey{u.StationCode, u.LeadTime}] = u
}

// Get returns the unit for (stationCode, leadTime), or nil if absent.
func (d *DischargeStationDataset) Get(stationCode string, leadTime int) *DischargeStation {
	return d.units[stationKey{stationCode, leadTime}]
}

// StationCodes returns the distinct station codes, sorted.
func (d *DischargeStationDataset) StationCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for k := range d.units {
		if !seen[k.stationCode] {
			seen[k.stationCode] = true
			codes = append(codes, k.stationCode)
		}
	}
	sort.Strings(codes)
	return codes
}

// ForecastAdminDataset holds the flood forecasts of one country run, keyed
// by (pcode, lead time).
type ForecastAdminDataset struct {
	Country   string
	Timestamp time.Time
	AdmLevels []int
	units     map[adminKey]*ForecastAdmin
}

// NewForecastAdminDataset creates an empty admin forecast dataset.
func NewForecastAdminDataset(country string, timestamp time.Time, admLevels []int) *ForecastAdminDataset {
	return &ForecastAdminDataset{
		Country:   country,
		Timestamp: timestamp,
		AdmLevels: admLevels,
		units:     make(map[adminKey]*ForecastAdmin),
	}
}

// Upsert inserts u, replacing any existing unit with the same
// (pcode, lead time).
func (d *ForecastAdminDataset) Upsert(u *ForecastAdmin) {
	d.units[adminKey{u.Pcode, u.LeadTime}] = u
}

// Get returns the unit for (pcode, leadTime), or nil if absent.
func (d *ForecastAdminDataset) Get(pcode string, leadTime int) *ForecastAdmin {
	return d.units[adminKey{pcode, leadTime}]
}

// Units returns all units ordered by pcode then lead time.
func (d *ForecastAdminDataset) Units() []*ForecastAdmin {
	keys := make([]adminKey, 0, len(d.units))
	for k := range d.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pcode != keys[j].pcode {
			return keys[i].pcode < keys[j].pcode
		}
		return keys[i].leadTime < keys[j].leadTime
	})
	out := make([]*ForecastAdmin, len(keys))
	for i, k := range keys {
		out[i] = d.units[k]
	}
	return out
}

// ByLeadTime returns the units at the given lead time, ordered by pcode.
func (d *ForecastAdminDataset) ByLeadTime(leadTime int) []*ForecastAdmin {
	var out []*ForecastAdmin
	for _, u := range d.Units() {
		if u.LeadTime == leadTime {
			out = append(out, u)
		}
	}
	return out
}

// Pcodes returns the distinct pcodes at the given admin level, sorted.
func (d *ForecastAdminDataset) Pcodes(admLevel int) []string {
	seen := make(map[string]bool)
	var pcodes []string
	for k, u := range d.units {
		if u.AdmLevel == admLevel && !seen[k.pcode] {
			seen[k.pcode] = true
			pcodes = append(pcodes, k.pcode)
		}
	}
	sort.Strings(pcodes)
	return pcodes
}

// AnyTriggered reports whether any unit in the dataset is triggered.
func (d *ForecastAdminDataset) AnyTriggered() bool {
	for _, u := range d.units {
		if u.Triggered {
			return true
		}
	}
	return false
}

// TriggeredLeadTimes returns the lead times with at least one triggered
// unit, sorted.
func (d *ForecastAdminDataset) TriggeredLeadTimes() []int {
	seen := make(map[int]bool)
	for _, u := range d.units {
		if u.Triggered {
			seen[u.LeadTime] = true
		}
	}
	var out []int
	for lt := range seen {
		out = append(out, lt)
	}
	sort.Ints(out)
	return out
}

// ForecastStationDataset holds the station flood forecasts of one country
// run, keyed by (station code, lead time).
type ForecastStationDataset struct {
	Country   string
	Timestamp time.Time
	units     map[stationKey]*ForecastStation
}

// NewForecastStationDataset creates an empty station forecast dataset.
func NewForecastStationDataset(country string, timestamp time.Time) *ForecastStationDataset {
	return &ForecastStationDataset{
		Country:   country,
		Timestamp: timestamp,
		units:     make(map[stationKey]*ForecastStation),
	}
}

// Upsert inserts u, replacing any existing unit with the same
// (station code, lead time).
func (d *ForecastStationDataset) Upsert(u *ForecastStation) {
	d.units[stationKey{u.StationCode, u.LeadTime}] = u
}

// Get returns the unit for (stationCode, leadTime), or nil if absent.
func (d *ForecastStationDataset) Get(stationCode string, leadTime int) *ForecastStation {
	return d.units[stationKey{stationCode, leadTime}]
}

// StationCodes returns the distinct station codes, sorted.
func (d *ForecastStationDataset) StationCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for k := range d.units {
		if !seen[k.stationCode] {
			seen[k.stationCode] = true
			codes = append(codes, k.stationCode)
		}
	}
	sort.Strings(codes)
	return codes
}
