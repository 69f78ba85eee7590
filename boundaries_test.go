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
	"reflect"
	"strings"
	"testing"
)

// testFeatureCollection holds one square admin area P1 spanning
// (0, 0)..(2, 2).
const testFeatureCollection = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"ADM1_PCODE": "P1"},
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]
			}
		}
	]
}`

func TestLoadBoundaries(t *testing.T) {
	b := NewAdminBoundaries("UGA")
	if err := b.LoadLevel(1, strings.NewReader(testFeatureCollection)); err != nil {
		t.Fatal(err)
	}
	if !b.Has(1, "P1") {
		t.Error("Has(1, P1) = false, want true")
	}
	if b.Has(1, "P2") {
		t.Error("Has(1, P2) = true, want false")
	}
	if b.Has(2, "P1") {
		t.Error("Has(2, P1) = true, want false")
	}
	area := b.Area(1, "P1")
	if area == nil {
		t.Fatal("Area(1, P1) = nil")
	}
	if got := area.Polygonal.Area(); got != 4 {
		t.Errorf("area = %g, want 4", got)
	}
	if got, want := b.Levels(), []int{1}; !reflect.DeepEqual(got, want) {
		t.Errorf("levels = %v, want %v", got, want)
	}
	if got := b.DeepestLevel(); got != 1 {
		t.Errorf("deepest level = %d, want 1", got)
	}
}

func TestLoadBoundariesMissingPcode(t *testing.T) {
	collection := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {},
		 "geometry": {"type": "Polygon",
			"coordinates": [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]}}]}`
	b := NewAdminBoundaries("UGA")
	if err := b.LoadLevel(1, strings.NewReader(collection)); err == nil {
		t.Error("expected an error for a feature without a pcode property")
	}
}

func TestLoadBoundariesEmpty(t *testing.T) {
	b := NewAdminBoundaries("UGA")
	err := b.LoadLevel(1, strings.NewReader(`{"type": "FeatureCollection", "features": []}`))
	if err == nil {
		t.Error("expected an error for an empty feature collection")
	}
}
