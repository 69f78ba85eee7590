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
	"io/ioutil"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/spf13/cast"
)

// AdminArea is one administrative area polygon.
type AdminArea struct {
	Pcode    string
	AdmLevel int
	geom.Polygonal
}

// AdminBoundaries holds the administrative area polygons of one country,
// indexed by admin level and pcode. It is read-only after loading.
type AdminBoundaries struct {
	Country string
	levels  map[int][]*AdminArea
	byPcode map[int]map[string]*AdminArea
}

// NewAdminBoundaries creates an empty boundary set for a country.
func NewAdminBoundaries(country string) *AdminBoundaries {
	return &AdminBoundaries{
		Country: country,
		levels:  make(map[int][]*AdminArea),
		byPcode: make(map[int]map[string]*AdminArea),
	}
}

type geoJSONFeature struct {
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoJSONFeatureCollection struct {
	Features []*geoJSONFeature `json:"features"`
}

// LoadLevel reads one admin level from a GeoJSON-like feature collection.
// The pcode of each feature is taken from the property ADM{lvl}_PCODE.
func (b *AdminBoundaries) LoadLevel(admLevel int, r io.Reader) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return fmt.Errorf("floodpipeline: reading admin level %d boundaries for %s: %v",
			admLevel, b.Country, err)
	}
	var fc geoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("floodpipeline: decoding admin level %d boundaries for %s: %v",
			admLevel, b.Country, err)
	}
	if len(fc.Features) == 0 {
		return fmt.Errorf("%w: no features at admin level %d for %s",
			ErrBoundaryMissing, admLevel, b.Country)
	}
	pcodeProp := fmt.Sprintf("ADM%d_PCODE", admLevel)
	for i, f := range fc.Features {
		pcode := cast.ToString(f.Properties[pcodeProp])
		if pcode == "" {
			return fmt.Errorf("%w: feature %d at admin level %d has no %s property",
				ErrBoundaryMissing, i, admLevel, pcodeProp)
		}
		if f.Geometry == nil {
			return fmt.Errorf("%w: pcode %s at admin level %d has no geometry",
				ErrBoundaryMissing, pcode, admLevel)
		}
		g, err := geojson.FromGeoJSON(f.Geometry)
		if err != nil {
			return fmt.Errorf("floodpipeline: pcode %s at admin level %d: %v", pcode, admLevel, err)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return fmt.Errorf("floodpipeline: pcode %s at admin level %d: geometry type %T "+
				"is not polygonal", pcode, admLevel, g)
		}
		b.add(&AdminArea{Pcode: pcode, AdmLevel: admLevel, Polygonal: poly})
	}
	// Sort so that iteration order doesn't change between program runs.
	sort.Slice(b.levels[admLevel], func(i, j int) bool {
		return b.levels[admLevel][i].Pcode < b.levels[admLevel][j].Pcode
	})
	return nil
}

func (b *AdminBoundaries) add(a *AdminArea) {
	b.levels[a.AdmLevel] = append(b.levels[a.AdmLevel], a)
	if b.byPcode[a.AdmLevel] == nil {
		b.byPcode[a.AdmLevel] = make(map[string]*AdminArea)
	}
	b.byPcode[a.AdmLevel][a.Pcode] = a
}

// Has reports whether the given pcode exists at the given admin level.
func (b *AdminBoundaries) Has(admLevel int, pcode string) bool {
	return b.byPcode[admLevel][pcode] != nil
}

// Area returns the area for (admLevel, pcode), or nil if absent.
func (b *AdminBoundaries) Area(admLevel int, pcode string) *AdminArea {
	return b.byPcode[admLevel][pcode]
}

// Level returns the areas at the given admin level, ordered by pcode.
func (b *AdminBoundaries) Level(admLevel int) []*AdminArea {
	return b.levels[admLevel]
}

// Levels returns the loaded admin levels, sorted ascending.
func (b *AdminBoundaries) Levels() []int {
	var out []int
	for lvl := range b.levels {
		out = append(out, lvl)
	}
	sort.Ints(out)
	return out
}

// DeepestLevel returns the largest loaded admin level, or 0 when no level
// has been loaded.
func (b *AdminBoundaries) DeepestLevel() int {
	deepest := 0
	for lvl := range b.levels {
		if lvl > deepest {
			deepest = lvl
		}
	}
	return deepest
}
