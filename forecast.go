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
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ForecastEngine reduces discharge ensembles to flood likelihoods and
// classifies the trigger and alert state of every admin area and station.
type ForecastEngine struct {
	Thresholds *ThresholdStore
	Policy     *Policy

	Log logrus.FieldLogger
}

// NewForecastEngine creates a ForecastEngine for one country.
func NewForecastEngine(thresholds *ThresholdStore, policy *Policy) *ForecastEngine {
	return &ForecastEngine{
		Thresholds: thresholds,
		Policy:     policy,
		Log:        logrus.StandardLogger(),
	}
}

// Likelihoods reduces an ensemble against a sorted threshold series. The
// likelihood for each return period is the fraction of members strictly
// above the threshold, so the result is non-increasing along the series.
func Likelihoods(ensemble []float64, thresholds []Threshold) []Forecast {
	out := make([]Forecast, len(thresholds))
	for i, t := range thresholds {
		n := 0
		for _, x := range ensemble {
			if x > t.Value {
				n++
			}
		}
		likelihood := 0.0
		if len(ensemble) > 0 {
			likelihood = float64(n) / float64(len(ensemble))
		}
		out[i] = Forecast{ReturnPeriod: t.ReturnPeriod, Likelihood: likelihood}
	}
	return out
}

// likelihoodAt returns the likelihood for the given return period. It
// fails with ErrThresholdMissing when the return period is not in the
// series.
func likelihoodAt(forecasts []Forecast, rp float64) (float64, error) {
	for _, f := range forecasts {
		if f.ReturnPeriod == rp {
			return f.Likelihood, nil
		}
	}
	return 0, fmt.Errorf("%w: return period %g not in forecasts", ErrThresholdMissing, rp)
}

// classify derives the trigger state, reached return period, and alert
// class for one set of per-return-period likelihoods at one lead time.
func (fe *ForecastEngine) classify(forecasts []Forecast, leadTime int) (triggered bool, returnPeriod float64, class AlertClass, err error) {
	p := fe.Policy
	pTrigger, err := likelihoodAt(forecasts, p.TriggerRP)
	if err != nil {
		return false, 0, AlertNone, err
	}
	triggered = pTrigger >= p.TriggerMinProb && leadTime <= p.TriggerLeadTime

	// The reached return period is the largest one whose likelihood meets
	// the trigger probability, or 0 when none does.
	for _, f := range forecasts {
		if f.Likelihood >= p.TriggerMinProb {
			returnPeriod = f.ReturnPeriod
		}
	}

	class, err = fe.alertClass(forecasts, triggered)
	if err != nil {
		return false, 0, AlertNone, err
	}
	return triggered, returnPeriod, class, nil
}

// alertClass walks the class criteria in ascending severity order and
// returns the highest class whose criterion is met.
func (fe *ForecastEngine) alertClass(forecasts []Forecast, triggered bool) (AlertClass, error) {
	p := fe.Policy
	class := AlertNone
	switch p.AlertMode {
	case AlertOnReturnPeriod:
		for _, c := range alertClasses(p.AlertRPByClass) {
			likelihood, err := likelihoodAt(forecasts, p.AlertRPByClass[c])
			if err != nil {
				return AlertNone, err
			}
			if likelihood >= p.AlertMinProb {
				class = c
			}
		}
	case AlertOnProbability:
		likelihood, err := likelihoodAt(forecasts, p.AlertRP)
		if err != nil {
			return AlertNone, err
		}
		for _, c := range alertClasses(p.AlertProbByClass) {
			if likelihood >= p.AlertProbByClass[c] {
				class = c
			}
		}
	case AlertDisabled:
		if triggered {
			class = AlertMax
		}
	default:
		return AlertNone, fmt.Errorf("%w: unknown alert mode %d", ErrPolicyInvalid, int(p.AlertMode))
	}
	return class, nil
}

// Run classifies every discharge unit of a country run.
func (fe *ForecastEngine) Run(ctx context.Context, admin *DischargeAdminDataset, stations *DischargeStationDataset) (*ForecastAdminDataset, *ForecastStationDataset, error) {
	fa := NewForecastAdminDataset(admin.Country, admin.Timestamp, admin.AdmLevels)
	for _, u := range admin.Units() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		t := fe.Thresholds.Admin(u.AdmLevel, u.Pcode)
		if t == nil {
			return nil, nil, fmt.Errorf("%w: no thresholds for pcode %s at admin level %d",
				ErrThresholdMissing, u.Pcode, u.AdmLevel)
		}
		forecasts := Likelihoods(u.Ensemble, t.Thresholds)
		triggered, rp, class, err := fe.classify(forecasts, u.LeadTime)
		if err != nil {
			return nil, nil, fmt.Errorf("pcode %s lead time %d: %w", u.Pcode, u.LeadTime, err)
		}
		fa.Upsert(&ForecastAdmin{
			AdmLevel:     u.AdmLevel,
			Pcode:        u.Pcode,
			LeadTime:     u.LeadTime,
			Forecasts:    forecasts,
			Triggered:    triggered,
			ReturnPeriod: rp,
			AlertClass:   class,
		})
	}

	fs := NewForecastStationDataset(stations.Country, stations.Timestamp)
	for _, code := range stations.StationCodes() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		t := fe.Thresholds.Station(code)
		if t == nil {
			return nil, nil, fmt.Errorf("%w: no thresholds for station %s", ErrThresholdMissing, code)
		}
		for lt := 1; lt <= MaxLeadTime; lt++ {
			u := stations.Get(code, lt)
			if u == nil {
				continue
			}
			forecasts := Likelihoods(u.Ensemble, t.Thresholds)
			triggered, rp, class, err := fe.classify(forecasts, u.LeadTime)
			if err != nil {
				return nil, nil, fmt.Errorf("station %s lead time %d: %w", code, u.LeadTime, err)
			}
			fs.Upsert(&ForecastStation{
				StationCode:  u.StationCode,
				StationName:  u.StationName,
				Lat:          u.Lat,
				Lon:          u.Lon,
				Pcodes:       u.Pcodes,
				LeadTime:     u.LeadTime,
				Forecasts:    forecasts,
				Triggered:    triggered,
				ReturnPeriod: rp,
				AlertClass:   class,
			})
		}
	}
	return fa, fs, nil
}

// EventType says whether a station carries a trigger event, an alert
// event, or no event in the current run.
type EventType int

const (
	EventNone EventType = iota
	EventAlert
	EventTrigger
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventAlert:
		return "alert"
	case EventTrigger:
		return "trigger"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// StationEvent is the event derived from a station's per-lead-time
// forecasts.
type StationEvent struct {
	Type     EventType
	LeadTime int // valid when Type != EventNone
}

// DeriveEvent derives the event of one station from its per-lead-time
// forecasts. The earliest lead time whose ensemble meets the trigger
// probability wins; when it lies beyond the trigger lead time the event
// is downgraded to an alert. Otherwise the earliest alerting lead time
// yields an alert event.
func (fe *ForecastEngine) DeriveEvent(d *ForecastStationDataset, stationCode string) (StationEvent, error) {
	p := fe.Policy
	for lt := 1; lt <= MaxLeadTime; lt++ {
		u := d.Get(stationCode, lt)
		if u == nil {
			continue
		}
		pTrigger, err := likelihoodAt(u.Forecasts, p.TriggerRP)
		if err != nil {
			return StationEvent{}, fmt.Errorf("station %s lead time %d: %w", stationCode, lt, err)
		}
		if pTrigger >= p.TriggerMinProb {
			if lt > p.TriggerLeadTime {
				return StationEvent{Type: EventAlert, LeadTime: lt}, nil
			}
			return StationEvent{Type: EventTrigger, LeadTime: lt}, nil
		}
	}
	for lt := 1; lt <= MaxLeadTime; lt++ {
		u := d.Get(stationCode, lt)
		if u == nil {
			continue
		}
		if u.AlertClass != AlertNone {
			return StationEvent{Type: EventAlert, LeadTime: lt}, nil
		}
	}
	return StationEvent{}, nil
}
