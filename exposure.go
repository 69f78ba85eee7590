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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline/internal/geotiff"
)

// PopulationKey is the storage key of the population density raster.
const PopulationKey = "population_density.tif"

// ExposureCalc computes the population affected by the flood extents and
// writes it back into the admin forecast dataset.
type ExposureCalc struct {
	Store      BlobStore
	Boundaries *AdminBoundaries
	Country    *Country

	Log logrus.FieldLogger

	popOnce sync.Once
	pop     *Raster
	popErr  error
}

// NewExposureCalc creates an ExposureCalc.
func NewExposureCalc(store BlobStore, boundaries *AdminBoundaries, country *Country) *ExposureCalc {
	return &ExposureCalc{
		Store:      store,
		Boundaries: boundaries,
		Country:    country,
		Log:        logrus.StandardLogger(),
	}
}

// population loads the population density raster once. Negative cells
// (a common nodata encoding) are floored to zero.
func (ec *ExposureCalc) population(ctx context.Context) (*Raster, error) {
	ec.popOnce.Do(func() {
		r, err := ec.Store.Get(ctx, PopulationKey)
		if err != nil {
			ec.popErr = fmt.Errorf("floodpipeline: fetching %s: %w", PopulationKey, err)
			return
		}
		defer r.Close()
		data, err := ioutil.ReadAll(r)
		if err != nil {
			ec.popErr = fmt.Errorf("floodpipeline: reading %s: %v", PopulationKey, err)
			return
		}
		im, err := geotiff.Decode(bytes.NewReader(data))
		if err != nil {
			ec.popErr = fmt.Errorf("floodpipeline: decoding %s: %v", PopulationKey, err)
			return
		}
		if im.EPSG != 0 && im.EPSG != geotiff.EPSGWGS84 {
			ec.popErr = fmt.Errorf("floodpipeline: %s is in EPSG:%d, want EPSG:%d",
				PopulationKey, im.EPSG, geotiff.EPSGWGS84)
			return
		}
		pop := FromGeoTIFF(im)
		for i, v := range pop.Data.Elements {
			if v < 0 || math.IsNaN(v) {
				pop.Data.Elements[i] = 0
			}
		}
		ec.pop = pop
	})
	return ec.pop, ec.popErr
}

// Run computes pop_affected and pop_affected_pct for every triggered
// admin unit. Units that are not triggered keep zero exposure.
func (ec *ExposureCalc) Run(ctx context.Context, forecasts *ForecastAdminDataset, extents *ExtentSet) error {
	pop, err := ec.population(ctx)
	if err != nil {
		return err
	}

	minDepth := ec.Country.Policy.MinFloodDepth
	for _, lt := range forecasts.TriggeredLeadTimes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		extent, ok := extents.ByLeadTime[lt]
		if !ok || !extents.Triggered[lt] {
			continue
		}
		affected := pop.MaskFlooded(extent.FloodedIndex(minDepth))
		for _, u := range forecasts.ByLeadTime(lt) {
			if !u.Triggered {
				continue
			}
			area := ec.Boundaries.Area(u.AdmLevel, u.Pcode)
			if area == nil {
				return fmt.Errorf("%w: no geometry for pcode %s at admin level %d",
					ErrBoundaryMissing, u.Pcode, u.AdmLevel)
			}
			popAffected := affected.ZonalSum(area.Polygonal)
			popTotal := pop.ZonalSum(area.Polygonal)
			u.PopAffected = int(math.Round(popAffected))
			if u.PopAffected < 0 {
				u.PopAffected = 0
			}
			if popTotal > 0 {
				u.PopAffectedPct = 100 * popAffected / popTotal
			} else {
				u.PopAffectedPct = 0
			}
		}
	}
	return nil
}
