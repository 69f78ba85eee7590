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
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/sparse"

	"github.com/rodekruis/IBF-river-flood-pipeline/internal/geotiff"
)

// Raster is a regular north-up grid of values in EPSG:4326. Row 0 is the
// northernmost row. X0 is the west edge and Y0 the north edge of the grid;
// Dx and Dy are positive cell sizes in degrees.
type Raster struct {
	X0, Y0 float64
	Dx, Dy float64
	Nx, Ny int
	Nodata float64
	Data   *sparse.DenseArray // shape [Ny, Nx]
}

// NewRaster creates a zero-filled raster with the given grid.
func NewRaster(x0, y0, dx, dy float64, nx, ny int) *Raster {
	return &Raster{
		X0: x0, Y0: y0,
		Dx: dx, Dy: dy,
		Nx: nx, Ny: ny,
		Data: sparse.ZerosDense(ny, nx),
	}
}

// Clone returns a zero-filled raster with the same grid as r.
func (r *Raster) Clone() *Raster {
	o := NewRaster(r.X0, r.Y0, r.Dx, r.Dy, r.Nx, r.Ny)
	o.Nodata = r.Nodata
	return o
}

// SameGrid reports whether o shares r's grid definition.
func (r *Raster) SameGrid(o *Raster) bool {
	const eps = 1.e-9
	return r.Nx == o.Nx && r.Ny == o.Ny &&
		math.Abs(r.X0-o.X0) < eps && math.Abs(r.Y0-o.Y0) < eps &&
		math.Abs(r.Dx-o.Dx) < eps && math.Abs(r.Dy-o.Dy) < eps
}

// Bounds returns the outer bounds of the grid.
func (r *Raster) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: r.X0, Y: r.Y0 - float64(r.Ny)*r.Dy},
		Max: geom.Point{X: r.X0 + float64(r.Nx)*r.Dx, Y: r.Y0},
	}
}

// CellPolygon returns the cell at (row, col) as a counter-clockwise
// polygon.
func (r *Raster) CellPolygon(row, col int) geom.Polygon {
	l := r.X0 + float64(col)*r.Dx
	u := r.Y0 - float64(row)*r.Dy
	rt := l + r.Dx
	b := u - r.Dy
	return geom.Polygon{{{X: l, Y: b}, {X: rt, Y: b}, {X: rt, Y: u}, {X: l, Y: u}, {X: l, Y: b}}}
}

// cellRange returns the row and column ranges (inclusive) of cells whose
// extent overlaps b, clipped to the grid. ok is false when b lies fully
// outside the grid.
func (r *Raster) cellRange(b *geom.Bounds) (row0, row1, col0, col1 int, ok bool) {
	col0 = int(math.Floor((b.Min.X - r.X0) / r.Dx))
	col1 = int(math.Floor((b.Max.X - r.X0) / r.Dx))
	row0 = int(math.Floor((r.Y0 - b.Max.Y) / r.Dy))
	row1 = int(math.Floor((r.Y0 - b.Min.Y) / r.Dy))
	if col1 < 0 || row1 < 0 || col0 >= r.Nx || row0 >= r.Ny {
		return 0, 0, 0, 0, false
	}
	if col0 < 0 {
		col0 = 0
	}
	if row0 < 0 {
		row0 = 0
	}
	if col1 >= r.Nx {
		col1 = r.Nx - 1
	}
	if row1 >= r.Ny {
		row1 = r.Ny - 1
	}
	return row0, row1, col0, col1, true
}

// touches reports whether the cell at (row, col) overlaps g.
func (r *Raster) touches(g geom.Polygonal, row, col int) bool {
	isect := r.CellPolygon(row, col).Intersection(g)
	return isect != nil && isect.Area() > 0
}

// ZonalMax returns the maximum value of the cells touched by g, treating
// the nodata value and NaN cells as missing. It returns NaN when no valid
// cell is touched.
func (r *Raster) ZonalMax(g geom.Polygonal) float64 {
	max := math.NaN()
	row0, row1, col0, col1, ok := r.cellRange(g.Bounds())
	if !ok {
		return max
	}
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			v := r.Data.Get(row, col)
			if math.IsNaN(v) || v == r.Nodata {
				continue
			}
			if !r.touches(g, row, col) {
				continue
			}
			if math.IsNaN(max) || v > max {
				max = v
			}
		}
	}
	return max
}

// ZonalSum returns the sum of the cells touched by g, treating the nodata
// value and NaN cells as 0.
func (r *Raster) ZonalSum(g geom.Polygonal) float64 {
	var sum float64
	row0, row1, col0, col1, ok := r.cellRange(g.Bounds())
	if !ok {
		return 0
	}
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			v := r.Data.Get(row, col)
			if math.IsNaN(v) || v == r.Nodata {
				continue
			}
			if r.touches(g, row, col) {
				sum += v
			}
		}
	}
	return sum
}

// Sample returns the value of the cell containing (x, y), or NaN when the
// point lies outside the grid.
func (r *Raster) Sample(x, y float64) float64 {
	col := int(math.Floor((x - r.X0) / r.Dx))
	row := int(math.Floor((r.Y0 - y) / r.Dy))
	if col < 0 || col >= r.Nx || row < 0 || row >= r.Ny {
		return math.NaN()
	}
	return r.Data.Get(row, col)
}

// MaskTo returns a copy of r with all cells not touched by g set to zero
// (crop-to-polygon).
func (r *Raster) MaskTo(g geom.Polygonal) *Raster {
	o := r.Clone()
	row0, row1, col0, col1, ok := r.cellRange(g.Bounds())
	if !ok {
		return o
	}
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			v := r.Data.Get(row, col)
			if v == 0 || math.IsNaN(v) {
				continue
			}
			if r.touches(g, row, col) {
				o.Data.Set(v, row, col)
			}
		}
	}
	return o
}

// MergeMax sets every cell of r to the pixelwise maximum of r and o. The
// grids must match.
func (r *Raster) MergeMax(o *Raster) error {
	if !r.SameGrid(o) {
		return fmt.Errorf("floodpipeline: cannot merge rasters with different grids")
	}
	for i, v := range o.Data.Elements {
		if math.IsNaN(v) {
			continue
		}
		if v > r.Data.Elements[i] {
			r.Data.Elements[i] = v
		}
	}
	return nil
}

// floodedCell is one raster cell in a flooded-area index.
type floodedCell struct {
	geom.Polygonal
}

// FloodedIndex returns a spatial index over the cells of r with depth of
// at least minDepth. Zero depth is nodata in flood extents, so zero cells
// are never included.
func (r *Raster) FloodedIndex(minDepth float64) *rtree.Rtree {
	index := rtree.NewTree(25, 50)
	for row := 0; row < r.Ny; row++ {
		for col := 0; col < r.Nx; col++ {
			v := r.Data.Get(row, col)
			if math.IsNaN(v) || v <= 0 || v < minDepth {
				continue
			}
			index.Insert(&floodedCell{Polygonal: r.CellPolygon(row, col)})
		}
	}
	return index
}

// MaskFlooded returns a copy of r keeping only the cells that overlap the
// flooded area described by index (a tree of cell polygons built with
// FloodedIndex, possibly on a different grid).
func (r *Raster) MaskFlooded(index *rtree.Rtree) *Raster {
	o := r.Clone()
	for row := 0; row < r.Ny; row++ {
		for col := 0; col < r.Nx; col++ {
			v := r.Data.Get(row, col)
			if v == 0 || math.IsNaN(v) || v == r.Nodata {
				continue
			}
			cell := r.CellPolygon(row, col)
			for _, fI := range index.SearchIntersect(cell.Bounds()) {
				f := fI.(*floodedCell)
				if isect := cell.Intersection(f.Polygonal); isect != nil && isect.Area() > 0 {
					o.Data.Set(v, row, col)
					break
				}
			}
		}
	}
	return o
}

// FromGeoTIFF converts a decoded GeoTIFF image to a Raster.
func FromGeoTIFF(im *geotiff.Image) *Raster {
	r := NewRaster(im.X0, im.Y0, im.Dx, im.Dy, im.Nx, im.Ny)
	r.Nodata = im.Nodata
	copy(r.Data.Elements, im.Data)
	return r
}

// ToGeoTIFF converts r to a GeoTIFF image in EPSG:4326.
func (r *Raster) ToGeoTIFF() *geotiff.Image {
	im := &geotiff.Image{
		Nx: r.Nx, Ny: r.Ny,
		X0: r.X0, Y0: r.Y0,
		Dx: r.Dx, Dy: r.Dy,
		EPSG:   geotiff.EPSGWGS84,
		Nodata: r.Nodata,
		Data:   make([]float64, len(r.Data.Elements)),
	}
	copy(im.Data, r.Data.Elements)
	return im
}
