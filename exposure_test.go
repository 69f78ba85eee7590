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
	"strings"
	"testing"
	"time"
)

// twoAreaCollection holds P1 spanning (0, 0)..(2, 2) and P2 spanning
// (2, 2)..(4, 4).
const twoAreaCollection = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"ADM1_PCODE": "P1"},
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]
			}
		},
		{
			"type": "Feature",
			"properties": {"ADM1_PCODE": "P2"},
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[2, 2], [4, 2], [4, 4], [2, 4], [2, 2]]]
			}
		}
	]
}`

func exposureFixture(t *testing.T) (*ExposureCalc, *ForecastAdminDataset, *ExtentSet) {
	t.Helper()

	// Ten people per cell in the P1 quadrant (the south-west of the
	// grid), none elsewhere. One cell in P2 carries a negative nodata
	// value that the loader must floor to zero.
	pop := NewRaster(0, 4, 1, 1, 4, 4)
	pop.Data.Set(10, 2, 0)
	pop.Data.Set(10, 2, 1)
	pop.Data.Set(10, 3, 0)
	pop.Data.Set(10, 3, 1)
	pop.Data.Set(-100, 0, 3)

	store := newMapStore()
	store.blobs[PopulationKey] = encodeRaster(t, pop)

	boundaries := NewAdminBoundaries("UGA")
	if err := boundaries.LoadLevel(1, strings.NewReader(twoAreaCollection)); err != nil {
		t.Fatal(err)
	}

	forecasts := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	forecasts.Upsert(&ForecastAdmin{
		AdmLevel: 1, Pcode: "P1", LeadTime: 3, Triggered: true, ReturnPeriod: 10,
	})
	forecasts.Upsert(&ForecastAdmin{
		AdmLevel: 1, Pcode: "P2", LeadTime: 3, Triggered: true, ReturnPeriod: 10,
	})
	forecasts.Upsert(&ForecastAdmin{
		AdmLevel: 1, Pcode: "P1", LeadTime: 5,
	})

	// One meter of water over the cell (0, 0)..(1, 1) only.
	flood := NewRaster(0, 4, 1, 1, 4, 4)
	flood.Data.Set(1, 3, 0)
	extents := &ExtentSet{
		Empty:      NewRaster(0, 4, 1, 1, 4, 4),
		ByLeadTime: map[int]*Raster{3: flood},
		Triggered:  map[int]bool{3: true},
	}

	return NewExposureCalc(store, boundaries, testCountry()), forecasts, extents
}

func TestExposure(t *testing.T) {
	calc, forecasts, extents := exposureFixture(t)
	if err := calc.Run(context.Background(), forecasts, extents); err != nil {
		t.Fatal(err)
	}

	p1 := forecasts.Get("P1", 3)
	if p1.PopAffected != 10 {
		t.Errorf("P1 pop affected = %d, want 10", p1.PopAffected)
	}
	// 10 of P1's 40 inhabitants live in the flooded cell.
	if p1.PopAffectedPct != 25 {
		t.Errorf("P1 pop affected pct = %g, want 25", p1.PopAffectedPct)
	}

	// P2 is triggered but holds no population: both numbers are zero and
	// the zero total population must not produce an error or a NaN.
	p2 := forecasts.Get("P2", 3)
	if p2.PopAffected != 0 {
		t.Errorf("P2 pop affected = %d, want 0", p2.PopAffected)
	}
	if p2.PopAffectedPct != 0 {
		t.Errorf("P2 pop affected pct = %g, want 0", p2.PopAffectedPct)
	}

	// Units that are not triggered keep zero exposure.
	if u := forecasts.Get("P1", 5); u.PopAffected != 0 || u.PopAffectedPct != 0 {
		t.Errorf("untriggered unit exposure = (%d, %g), want (0, 0)",
			u.PopAffected, u.PopAffectedPct)
	}
}

func TestExposureMissingPopulation(t *testing.T) {
	calc, forecasts, extents := exposureFixture(t)
	calc.Store = newMapStore() // no population raster
	if err := calc.Run(context.Background(), forecasts, extents); err == nil {
		t.Error("expected an error when the population raster is missing")
	}
}
