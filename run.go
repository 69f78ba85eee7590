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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Severity maps an alert class and the trigger state of its event to the
// numeric forecast severity published downstream. A max-class alert only
// reaches full severity when it belongs to a trigger event.
func Severity(class AlertClass, trigger bool) float64 {
	switch class {
	case AlertMin:
		return 0.3
	case AlertMed:
		return 0.7
	case AlertMax:
		if trigger {
			return 1.0
		}
		return 0.7
	}
	return 0
}

// Snapshot is the complete result of one country run, handed to the
// Publisher. Nothing in a snapshot is mutated after publishing starts.
type Snapshot struct {
	Country    *Country
	Timestamp  time.Time
	Thresholds *ThresholdStore

	Admin            *ForecastAdminDataset
	Stations         *ForecastStationDataset
	StationDischarge *DischargeStationDataset
	Extents          *ExtentSet

	// Events holds the derived event per station code; stations without
	// an event are absent.
	Events map[string]StationEvent
}

// Publisher emits a snapshot to the downstream alerting system.
type Publisher interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// StaticData loads the per-country inputs that do not change between
// runs.
type StaticData interface {
	Boundaries(ctx context.Context, country *Country) (*AdminBoundaries, error)
	Thresholds(ctx context.Context, country *Country, boundaries *AdminBoundaries) (*ThresholdStore, error)
}

// Pipeline runs the flood forecast dataflow for a set of countries.
type Pipeline struct {
	Countries []*Country
	Source    ForecastSource
	Store     BlobStore
	Static    StaticData
	Publisher Publisher

	// WorkDir holds per-(date, country) sliced forecast files.
	WorkDir string
	// CacheDir, if nonempty, holds decoded flood maps between runs.
	CacheDir string

	Log logrus.FieldLogger
}

// Run executes one pipeline run for all configured countries. Countries
// run in parallel and are isolated from each other: a failing country is
// logged and does not stop the others. Run fails only when the context
// is cancelled.
func (p *Pipeline) Run(ctx context.Context, date time.Time) error {
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}
	var wg sync.WaitGroup
	for _, country := range p.Countries {
		wg.Add(1)
		go func(country *Country) {
			defer wg.Done()
			log := p.Log.WithFields(logrus.Fields{
				"country": country.Code,
				"date":    date.Format("20060102"),
			})
			if err := p.runCountry(ctx, country, date); err != nil {
				log.Errorf("country run failed: %v", err)
				return
			}
			log.Info("country run finished")
		}(country)
	}
	wg.Wait()
	return ctx.Err()
}

// runCountry executes the sequential dataflow of one country.
func (p *Pipeline) runCountry(ctx context.Context, country *Country, date time.Time) error {
	if err := country.Validate(); err != nil {
		return err
	}
	boundaries, err := p.Static.Boundaries(ctx, country)
	if err != nil {
		return err
	}
	thresholds, err := p.Static.Thresholds(ctx, country, boundaries)
	if err != nil {
		return err
	}

	workDir := filepath.Join(p.WorkDir, date.Format("20060102"), country.Code)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	ingest := NewIngest(p.Source, boundaries, thresholds, workDir)
	ingest.Log = p.Log
	dischargeAdmin, dischargeStations, err := ingest.Run(ctx, country, date)
	if err != nil {
		return err
	}

	engine := NewForecastEngine(thresholds, &country.Policy)
	engine.Log = p.Log
	admin, stations, err := engine.Run(ctx, dischargeAdmin, dischargeStations)
	if err != nil {
		return err
	}

	events := make(map[string]StationEvent)
	for _, code := range stations.StationCodes() {
		ev, err := engine.DeriveEvent(stations, code)
		if err != nil {
			return err
		}
		if ev.Type != EventNone {
			events[code] = ev
		}
	}

	extents := NewExtentBuilder(p.Store, boundaries, country)
	extents.CacheDir = p.CacheDir
	extents.Log = p.Log
	extentSet, err := extents.Build(ctx, admin)
	if err != nil {
		return err
	}

	exposure := NewExposureCalc(p.Store, boundaries, country)
	exposure.Log = p.Log
	if err := exposure.Run(ctx, admin, extentSet); err != nil {
		return err
	}

	return p.Publisher.Publish(ctx, &Snapshot{
		Country:          country,
		Timestamp:        date,
		Thresholds:       thresholds,
		Admin:            admin,
		Stations:         stations,
		StationDischarge: dischargeStations,
		Extents:          extentSet,
		Events:           events,
	})
}
