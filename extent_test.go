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
	"io"
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/geom"

	"github.com/rodekruis/IBF-river-flood-pipeline/internal/geotiff"
)

// mapStore is an in-memory BlobStore for tests.
type mapStore struct {
	blobs map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{blobs: make(map[string][]byte)} }

func (s *mapStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, os.ErrNotExist)
	}
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

func (s *mapStore) Put(ctx context.Context, key string, r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	s.blobs[key] = b
	return nil
}

// encodeRaster returns r as GeoTIFF bytes.
func encodeRaster(t *testing.T, r *Raster) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, r.ToGeoTIFF()); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// uniformRaster returns a 4x4 unit-cell grid spanning (0, 0)..(4, 4)
// filled with v.
func uniformRaster(v float64) *Raster {
	r := NewRaster(0, 4, 1, 1, 4, 4)
	for i := range r.Data.Elements {
		r.Data.Elements[i] = v
	}
	return r
}

func testCountry() *Country {
	return &Country{
		Code:      "UGA",
		AdmLevels: []int{1},
		BBox: &geom.Bounds{
			Min: geom.Point{X: 0, Y: 0},
			Max: geom.Point{X: 4, Y: 4},
		},
		Stations: true,
		Policy:   *testPolicy(),
	}
}

func testBoundaries(t *testing.T) *AdminBoundaries {
	t.Helper()
	b := NewAdminBoundaries("UGA")
	if err := b.LoadLevel(1, strings.NewReader(testFeatureCollection)); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestExtentFallbackToSmallestMap(t *testing.T) {
	store := newMapStore()
	store.blobs[FloodMapKey("UGA", 10)] = encodeRaster(t, uniformRaster(1))

	forecasts := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	// A triggered unit whose return period has no map of its own.
	forecasts.Upsert(&ForecastAdmin{
		AdmLevel: 1, Pcode: "P1", LeadTime: 3,
		Triggered: true, ReturnPeriod: 1.5,
	})

	builder := NewExtentBuilder(store, testBoundaries(t), testCountry())
	set, err := builder.Build(context.Background(), forecasts)
	if err != nil {
		t.Fatal(err)
	}
	if !set.Triggered[3] {
		t.Fatal("lead time 3 not marked as triggered")
	}
	extent := set.Extent(3)
	// The rp=10 map is used, cropped to P1 ((0, 0)..(2, 2)).
	if got := extent.Data.Get(3, 0); got != 1 {
		t.Errorf("cell inside P1 = %g, want 1", got)
	}
	if got := extent.Data.Get(0, 3); got != 0 {
		t.Errorf("cell outside P1 = %g, want 0", got)
	}
}

func TestExtentUsesExactMap(t *testing.T) {
	store := newMapStore()
	store.blobs[FloodMapKey("UGA", 10)] = encodeRaster(t, uniformRaster(1))
	store.blobs[FloodMapKey("UGA", 20)] = encodeRaster(t, uniformRaster(2))

	forecasts := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	forecasts.Upsert(&ForecastAdmin{
		AdmLevel: 1, Pcode: "P1", LeadTime: 2,
		Triggered: true, ReturnPeriod: 20,
	})

	builder := NewExtentBuilder(store, testBoundaries(t), testCountry())
	set, err := builder.Build(context.Background(), forecasts)
	if err != nil {
		t.Fatal(err)
	}
	if got := set.Extent(2).Data.Get(3, 0); got != 2 {
		t.Errorf("cell inside P1 = %g, want 2 (from the rp=20 map)", got)
	}
}

func TestExtentNoTrigger(t *testing.T) {
	store := newMapStore()
	store.blobs[FloodMapKey("UGA", 10)] = encodeRaster(t, uniformRaster(1))

	forecasts := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	forecasts.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 3})

	builder := NewExtentBuilder(store, testBoundaries(t), testCountry())
	set, err := builder.Build(context.Background(), forecasts)
	if err != nil {
		t.Fatal(err)
	}
	for lt := 0; lt <= MaxLeadTime; lt++ {
		if set.Triggered[lt] {
			t.Errorf("lead time %d marked as triggered", lt)
		}
		extent := set.Extent(lt)
		if !extent.SameGrid(set.Empty) {
			t.Fatalf("lead time %d: extent grid differs from the template", lt)
		}
		for i, v := range extent.Data.Elements {
			if v != 0 {
				t.Fatalf("lead time %d: cell %d = %g, want 0", lt, i, v)
			}
		}
	}
}

func TestPickReturnPeriod(t *testing.T) {
	if got := pickReturnPeriod(20); got != 20 {
		t.Errorf("pickReturnPeriod(20) = %g, want 20", got)
	}
	if got := pickReturnPeriod(1.5); got != 10 {
		t.Errorf("pickReturnPeriod(1.5) = %g, want 10", got)
	}
}
