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

package ibf

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline"
	"github.com/rodekruis/IBF-river-flood-pipeline/internal/geotiff"
)

const disasterType = "floods"

// dateFormat is the timestamp layout the dashboard expects, always UTC.
const dateFormat = "2006-01-02T15:04:05Z"

type exposureRecord struct {
	PlaceCode string  `json:"placeCode"`
	Amount    float64 `json:"amount"`
}

type exposurePayload struct {
	CountryCodeISO3    string           `json:"countryCodeISO3"`
	LeadTime           string           `json:"leadTime"`
	DynamicIndicator   string           `json:"dynamicIndicator"`
	AdminLevel         int              `json:"adminLevel"`
	ExposurePlaceCodes []exposureRecord `json:"exposurePlaceCodes"`
	DisasterType       string           `json:"disasterType"`
	EventName          *string          `json:"eventName"`
	Date               string           `json:"date"`
}

type pointValue struct {
	Fid   string      `json:"fid"`
	Value interface{} `json:"value"`
}

type pointPayload struct {
	LeadTime          string       `json:"leadTime"`
	Key               string       `json:"key"`
	DynamicPointData  []pointValue `json:"dynamicPointData"`
	PointDataCategory string       `json:"pointDataCategory"`
	DisasterType      string       `json:"disasterType"`
	CountryCodeISO3   string       `json:"countryCodeISO3"`
	Date              string       `json:"date"`
}

type alertPerLeadTime struct {
	LeadTime        string `json:"leadTime"`
	ForecastAlert   bool   `json:"forecastAlert"`
	ForecastTrigger bool   `json:"forecastTrigger"`
}

type alertsPayload struct {
	CountryCodeISO3   string             `json:"countryCodeISO3"`
	AlertsPerLeadTime []alertPerLeadTime `json:"alertsPerLeadTime"`
	DisasterType      string             `json:"disasterType"`
	EventName         *string            `json:"eventName"`
	Date              string             `json:"date"`
}

type processPayload struct {
	CountryCodeISO3 string `json:"countryCodeISO3"`
	DisasterType    string `json:"disasterType"`
	Date            string `json:"date"`
}

// Publisher posts country run snapshots to the IBF API. It satisfies the
// pipeline's Publisher interface.
type Publisher struct {
	Client *Client
	Log    logrus.FieldLogger
}

// NewPublisher creates a Publisher on top of an API client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{Client: client, Log: logrus.StandardLogger()}
}

// Publish emits the full message set of one snapshot: per-event exposures,
// alerts per lead time and station dynamics, then the extent rasters, the
// no-event sentinel when nothing was touched, the remaining station
// dynamics, and finally the process message that makes the new state
// visible. Cancellation before the process message leaves the dashboard
// in its previous state.
func (p *Publisher) Publish(ctx context.Context, s *floodpipeline.Snapshot) error {
	if err := p.Client.Login(ctx); err != nil {
		return err
	}
	date := s.Timestamp.UTC().Format(dateFormat)

	touched := false
	for _, code := range eventStationCodes(s.Events) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := s.Events[code]
		eventTouched, err := p.publishEvent(ctx, s, code, ev, date)
		if err != nil {
			return err
		}
		touched = touched || eventTouched
	}

	for lt := 0; lt <= floodpipeline.MaxLeadTime; lt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.postExtent(ctx, s, lt); err != nil {
			return err
		}
	}

	if !touched {
		if err := p.postSentinel(ctx, s, date); err != nil {
			return err
		}
	}

	var remaining []string
	for _, code := range s.Stations.StationCodes() {
		if _, ok := s.Events[code]; !ok {
			remaining = append(remaining, code)
		}
	}
	if len(remaining) > 0 {
		if err := p.postStationDynamics(ctx, s, floodpipeline.MaxLeadTime, remaining, date); err != nil {
			return err
		}
	}

	return p.Client.PostJSON(ctx, "events/process", processPayload{
		CountryCodeISO3: s.Country.Code,
		DisasterType:    disasterType,
		Date:            date,
	})
}

func eventStationCodes(events map[string]floodpipeline.StationEvent) []string {
	codes := make([]string, 0, len(events))
	for code := range events {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// publishEvent emits the exposure, alerts-per-lead-time, and station
// dynamic messages of one station event. It reports whether the event
// touched at least one admin area.
func (p *Publisher) publishEvent(ctx context.Context, s *floodpipeline.Snapshot, code string, ev floodpipeline.StationEvent, date string) (bool, error) {
	st := s.Stations.Get(code, ev.LeadTime)
	if st == nil {
		return false, fmt.Errorf("ibf: no station forecast for %s at lead time %d", code, ev.LeadTime)
	}
	trigger := ev.Type == floodpipeline.EventTrigger
	leadTime := fmt.Sprintf("%d-day", ev.LeadTime)
	eventName := st.StationName
	if eventName == "" {
		eventName = code
	}

	touched := false
	var admLevels []int
	for lvl := range st.Pcodes {
		admLevels = append(admLevels, lvl)
	}
	sort.Ints(admLevels)
	for _, lvl := range admLevels {
		pcodes := st.Pcodes[lvl]
		if len(pcodes) == 0 {
			continue
		}
		records := make(map[string][]exposureRecord)
		for _, pcode := range pcodes {
			u := s.Admin.Get(pcode, ev.LeadTime)
			if u == nil {
				p.Log.WithFields(logrus.Fields{
					"country":  s.Country.Code,
					"pcode":    pcode,
					"leadTime": ev.LeadTime,
				}).Warn("no admin forecast for event pcode")
				continue
			}
			severity := floodpipeline.Severity(u.AlertClass, trigger)
			forecastTrigger := 0.0
			if trigger && severity == 1.0 {
				forecastTrigger = 1.0
			}
			records["population_affected"] = append(records["population_affected"],
				exposureRecord{PlaceCode: pcode, Amount: float64(u.PopAffected)})
			records["population_affected_percentage"] = append(records["population_affected_percentage"],
				exposureRecord{PlaceCode: pcode, Amount: u.PopAffectedPct})
			records["forecast_severity"] = append(records["forecast_severity"],
				exposureRecord{PlaceCode: pcode, Amount: severity})
			records["forecast_trigger"] = append(records["forecast_trigger"],
				exposureRecord{PlaceCode: pcode, Amount: forecastTrigger})
			touched = true
		}
		for _, indicator := range exposureIndicators {
			if len(records[indicator]) == 0 {
				continue
			}
			err := p.Client.PostJSON(ctx, "admin-area-dynamic-data/exposure", exposurePayload{
				CountryCodeISO3:    s.Country.Code,
				LeadTime:           leadTime,
				DynamicIndicator:   indicator,
				AdminLevel:         lvl,
				ExposurePlaceCodes: records[indicator],
				DisasterType:       disasterType,
				EventName:          &eventName,
				Date:               date,
			})
			if err != nil {
				return false, err
			}
		}
	}

	// Alerts are monotone from the event lead time onward.
	alerts := make([]alertPerLeadTime, 0, floodpipeline.MaxLeadTime+1)
	for lt := 0; lt <= floodpipeline.MaxLeadTime; lt++ {
		alerts = append(alerts, alertPerLeadTime{
			LeadTime:        fmt.Sprintf("%d-day", lt),
			ForecastAlert:   lt >= ev.LeadTime,
			ForecastTrigger: trigger && lt >= ev.LeadTime,
		})
	}
	err := p.Client.PostJSON(ctx, "event/alerts-per-lead-time", alertsPayload{
		CountryCodeISO3:   s.Country.Code,
		AlertsPerLeadTime: alerts,
		DisasterType:      disasterType,
		EventName:         &eventName,
		Date:              date,
	})
	if err != nil {
		return false, err
	}

	if err := p.postStationDynamics(ctx, s, ev.LeadTime, []string{code}, date); err != nil {
		return false, err
	}
	return touched, nil
}

var exposureIndicators = []string{
	"population_affected",
	"population_affected_percentage",
	"forecast_severity",
	"forecast_trigger",
}

var stationKeys = []string{
	"forecastLevel",
	"eapAlertClass",
	"forecastReturnPeriod",
	"triggerLevel",
}

// postStationDynamics posts the station dynamic values of the given
// stations at one lead time, one message per key.
func (p *Publisher) postStationDynamics(ctx context.Context, s *floodpipeline.Snapshot, leadTime int, codes []string, date string) error {
	for _, key := range stationKeys {
		values := make([]pointValue, 0, len(codes))
		for _, code := range codes {
			v, err := p.stationValue(s, key, code, leadTime)
			if err != nil {
				return err
			}
			values = append(values, pointValue{Fid: code, Value: v})
		}
		err := p.Client.PostJSON(ctx, "point-data/dynamic", pointPayload{
			LeadTime:          fmt.Sprintf("%d-day", leadTime),
			Key:               key,
			DynamicPointData:  values,
			PointDataCategory: "glofas_stations",
			DisasterType:      disasterType,
			CountryCodeISO3:   s.Country.Code,
			Date:              date,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// stationValue computes one station dynamic value. The eapAlertClass of
// an alert event is downgraded from max to med: full severity is reserved
// for triggers.
func (p *Publisher) stationValue(s *floodpipeline.Snapshot, key, code string, leadTime int) (interface{}, error) {
	st := s.Stations.Get(code, leadTime)
	if st == nil {
		return nil, fmt.Errorf("ibf: no station forecast for %s at lead time %d", code, leadTime)
	}
	switch key {
	case "forecastLevel":
		d := s.StationDischarge.Get(code, leadTime)
		if d == nil {
			return nil, fmt.Errorf("ibf: no station discharge for %s at lead time %d", code, leadTime)
		}
		return int(d.Mean), nil
	case "eapAlertClass":
		class := st.AlertClass
		if ev, ok := s.Events[code]; ok && ev.Type == floodpipeline.EventAlert && class == floodpipeline.AlertMax {
			class = floodpipeline.AlertMed
		}
		return class.String(), nil
	case "forecastReturnPeriod":
		return st.ReturnPeriod, nil
	case "triggerLevel":
		t := s.Thresholds.Station(code)
		if t == nil {
			return nil, fmt.Errorf("%w: no thresholds for station %s",
				floodpipeline.ErrThresholdMissing, code)
		}
		return floodpipeline.ThresholdLookup(t.Thresholds, s.Country.Policy.TriggerRP)
	}
	return nil, fmt.Errorf("ibf: unknown station key %q", key)
}

// postExtent uploads the flood-extent raster of one lead time. Lead times
// without a triggered unit upload the empty template.
func (p *Publisher) postExtent(ctx context.Context, s *floodpipeline.Snapshot, leadTime int) error {
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, s.Extents.Extent(leadTime).ToGeoTIFF()); err != nil {
		return fmt.Errorf("ibf: encoding extent raster for lead time %d: %v", leadTime, err)
	}
	filename := fmt.Sprintf("flood_extent_%d-day_%s.tif", leadTime, s.Country.Code)
	return p.Client.PostFile(ctx, "admin-area-dynamic-data/raster/floods", filename, buf.Bytes())
}

// postSentinel posts zero exposures with a null event name for every
// admin level at lead time 1, telling the dashboard that no event is
// active.
func (p *Publisher) postSentinel(ctx context.Context, s *floodpipeline.Snapshot, date string) error {
	for _, lvl := range s.Country.AdmLevels {
		pcodes := s.Admin.Pcodes(lvl)
		records := make([]exposureRecord, len(pcodes))
		for i, pcode := range pcodes {
			records[i] = exposureRecord{PlaceCode: pcode, Amount: 0}
		}
		for _, indicator := range exposureIndicators {
			err := p.Client.PostJSON(ctx, "admin-area-dynamic-data/exposure", exposurePayload{
				CountryCodeISO3:    s.Country.Code,
				LeadTime:           "1-day",
				DynamicIndicator:   indicator,
				AdminLevel:         lvl,
				ExposurePlaceCodes: records,
				DisasterType:       disasterType,
				EventName:          nil,
				Date:               date,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
