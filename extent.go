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
	"encoding/gob"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline/internal/geotiff"
)

// BlobStore reads and writes named byte blobs.
type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader) error
}

// FloodMapReturnPeriods lists the return periods for which global
// inundation maps exist, ascending.
var FloodMapReturnPeriods = []float64{10, 20, 50, 75, 100, 200, 500}

// FloodMapKey returns the storage key of the global inundation map for a
// country and return period.
func FloodMapKey(country string, rp float64) string {
	return fmt.Sprintf("flood-maps/%s/flood_map_%s_RP%g.tif", country, country, rp)
}

func init() {
	gob.Register(&Raster{})
}

// ExtentBuilder assembles the per-lead-time flood-extent rasters of a
// country run from the per-return-period inundation maps.
type ExtentBuilder struct {
	Store      BlobStore
	Boundaries *AdminBoundaries
	Country    *Country

	// CacheDir, if nonempty, holds decoded flood maps between runs.
	CacheDir string

	Log logrus.FieldLogger

	loadOnce sync.Once
	maps     *requestcache.Cache
}

// NewExtentBuilder creates an ExtentBuilder.
func NewExtentBuilder(store BlobStore, boundaries *AdminBoundaries, country *Country) *ExtentBuilder {
	return &ExtentBuilder{
		Store:      store,
		Boundaries: boundaries,
		Country:    country,
		Log:        logrus.StandardLogger(),
	}
}

// ExtentSet is the flood-extent output of one country run: one raster per
// lead time 0..MaxLeadTime plus the empty template, all on the grid of
// the inundation maps.
type ExtentSet struct {
	Empty      *Raster
	ByLeadTime map[int]*Raster
	Triggered  map[int]bool // lead times with at least one triggered unit
}

// Extent returns the raster to publish for a lead time: the lead-time
// extent when a unit is triggered there, the empty template otherwise.
func (s *ExtentSet) Extent(leadTime int) *Raster {
	if s.Triggered[leadTime] {
		return s.ByLeadTime[leadTime]
	}
	return s.Empty
}

// floodMap loads and decodes the inundation map for one return period,
// caching decoded rasters in memory and, when CacheDir is set, on disk.
func (b *ExtentBuilder) floodMap(ctx context.Context, rp float64) (*Raster, error) {
	b.loadOnce.Do(func() {
		if b.CacheDir == "" {
			b.maps = requestcache.NewCache(b.fetchMap, runtime.GOMAXPROCS(-1),
				requestcache.Deduplicate(), requestcache.Memory(len(FloodMapReturnPeriods)))
		} else {
			b.maps = requestcache.NewCache(b.fetchMap, runtime.GOMAXPROCS(-1),
				requestcache.Deduplicate(), requestcache.Memory(len(FloodMapReturnPeriods)),
				requestcache.Disk(b.CacheDir, requestcache.MarshalGob, requestcache.UnmarshalGob))
		}
	})
	req := b.maps.NewRequest(ctx, rp, fmt.Sprintf("floodmap_%s_RP%g", b.Country.Code, rp))
	iface, err := req.Result()
	if err != nil {
		return nil, err
	}
	return iface.(*Raster), nil
}

func (b *ExtentBuilder) fetchMap(ctx context.Context, request interface{}) (interface{}, error) {
	rp := request.(float64)
	key := FloodMapKey(b.Country.Code, rp)
	r, err := b.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("floodpipeline: fetching flood map %s: %w", key, err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("floodpipeline: reading flood map %s: %v", key, err)
	}
	im, err := geotiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("floodpipeline: decoding flood map %s: %v", key, err)
	}
	if im.EPSG != 0 && im.EPSG != geotiff.EPSGWGS84 {
		return nil, fmt.Errorf("floodpipeline: flood map %s is in EPSG:%d, want EPSG:%d",
			key, im.EPSG, geotiff.EPSGWGS84)
	}
	return FromGeoTIFF(im), nil
}

// pickReturnPeriod maps a unit's reached return period to an available
// inundation map, falling back to the smallest available map when the
// exact return period has none. The fallback overestimates the extent,
// which is the conservative direction for an early warning.
func pickReturnPeriod(rp float64) float64 {
	for _, available := range FloodMapReturnPeriods {
		if available == rp {
			return rp
		}
	}
	return FloodMapReturnPeriods[0]
}

// Build assembles the extent set for a country run. Triggered units are
// taken at the deepest available admin level; each contributes its
// return-period map cropped to its geometry, and the per-lead-time extent
// is the pixelwise maximum over the contributions.
func (b *ExtentBuilder) Build(ctx context.Context, forecasts *ForecastAdminDataset) (*ExtentSet, error) {
	template, err := b.floodMap(ctx, FloodMapReturnPeriods[0])
	if err != nil {
		return nil, err
	}
	set := &ExtentSet{
		Empty:      template.Clone(),
		ByLeadTime: make(map[int]*Raster),
		Triggered:  make(map[int]bool),
	}

	deepest := b.Boundaries.DeepestLevel()
	for lt := 0; lt <= MaxLeadTime; lt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		extent := set.Empty.Clone()
		for _, u := range forecasts.ByLeadTime(lt) {
			if !u.Triggered || u.AdmLevel != deepest {
				continue
			}
			area := b.Boundaries.Area(deepest, u.Pcode)
			if area == nil {
				return nil, fmt.Errorf("%w: no geometry for pcode %s at admin level %d",
					ErrBoundaryMissing, u.Pcode, deepest)
			}
			m, err := b.floodMap(ctx, pickReturnPeriod(u.ReturnPeriod))
			if err != nil {
				return nil, err
			}
			if err := extent.MergeMax(m.MaskTo(area.Polygonal)); err != nil {
				return nil, err
			}
			set.Triggered[lt] = true
		}
		set.ByLeadTime[lt] = extent
	}
	return set, nil
}
