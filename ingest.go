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
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
)

// ForecastSource fetches raw ensemble discharge files. Fetch returns the
// NetCDF bytes for one ensemble member of one model run.
type ForecastSource interface {
	Fetch(ctx context.Context, date time.Time, ensemble int) (io.ReadCloser, error)
}

// RawEnsembleKey returns the storage key of a raw ensemble NetCDF.
func RawEnsembleKey(date time.Time, ensemble int) string {
	ymd := date.Format("20060102")
	return fmt.Sprintf("glofas-data/%s/dis_%02d_%s00.nc", ymd, ensemble, ymd)
}

// Ingest slices the global ensemble discharge files to a country and
// reduces them to per-admin-area and per-station discharge ensembles.
type Ingest struct {
	Source     ForecastSource
	Boundaries *AdminBoundaries
	Thresholds *ThresholdStore

	// WorkDir holds the sliced per-country NetCDF files. Sliced files are
	// keyed by (date, country, ensemble) and reused when present.
	WorkDir string

	Log logrus.FieldLogger
}

// NewIngest creates an Ingest stage.
func NewIngest(source ForecastSource, boundaries *AdminBoundaries, thresholds *ThresholdStore, workDir string) *Ingest {
	return &Ingest{
		Source:     source,
		Boundaries: boundaries,
		Thresholds: thresholds,
		WorkDir:    workDir,
		Log:        logrus.StandardLogger(),
	}
}

// Run produces the admin and station discharge datasets for one country
// run. Ensemble members that cannot be sliced after a re-fetch are dropped
// with a warning; the remaining ensemble vectors are shorter than the
// configured member count and are never padded.
func (ing *Ingest) Run(ctx context.Context, country *Country, date time.Time) (*DischargeAdminDataset, *DischargeStationDataset, error) {
	grids, err := ing.slice(ctx, country, date)
	if err != nil {
		return nil, nil, err
	}
	if len(grids) == 0 {
		return nil, nil, fmt.Errorf("%w: no ensemble member could be sliced for %s",
			ErrSourceUnavailable, country.Code)
	}

	admin, err := ing.reduceAdmin(ctx, country, date, grids)
	if err != nil {
		return nil, nil, err
	}
	// Countries without gauge stations get an empty station dataset.
	stations := NewDischargeStationDataset(country.Code, date)
	if country.Stations {
		stations, err = ing.reduceStations(ctx, country, date, grids)
		if err != nil {
			return nil, nil, err
		}
	}
	return admin, stations, nil
}

// ensembleGrid is the sliced discharge of one ensemble member: one raster
// per lead time, index lead_time - 1.
type ensembleGrid struct {
	ensemble int
	rasters  []*Raster
}

// slice cuts every ensemble member down to the country bounding box,
// in parallel across members. The returned grids are ordered by ensemble
// index; dropped members are absent.
func (ing *Ingest) slice(ctx context.Context, country *Country, date time.Time) ([]*ensembleGrid, error) {
	e := country.Policy.EnsembleMembers
	type result struct {
		ensemble int
		grid     *ensembleGrid
		err      error
	}
	// Buffered so that workers never block on send: the receive loop may
	// return early on a fatal member error.
	resultChan := make(chan result, e)
	for i := 0; i < e; i++ {
		go func(i int) {
			grid, err := ing.sliceEnsemble(ctx, country, date, i)
			resultChan <- result{ensemble: i, grid: grid, err: err}
		}(i)
	}
	grids := make([]*ensembleGrid, e)
	for i := 0; i < e; i++ {
		r := <-resultChan
		if r.err != nil {
			if !Recoverable(r.err) {
				return nil, r.err
			}
			ing.Log.WithFields(logrus.Fields{
				"country":  country.Code,
				"ensemble": r.ensemble,
			}).Warnf("dropping ensemble member: %v", r.err)
			continue
		}
		grids[r.ensemble] = r.grid
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Converge in ensemble-index order regardless of completion order.
	var out []*ensembleGrid
	for _, g := range grids {
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

// sliceEnsemble slices one ensemble member, reusing a cached sliced file
// when present. A member whose raw file cannot be opened is fetched and
// tried a second time before being dropped.
func (ing *Ingest) sliceEnsemble(ctx context.Context, country *Country, date time.Time, ensemble int) (*ensembleGrid, error) {
	sliced := filepath.Join(ing.WorkDir, fmt.Sprintf("GloFAS_%s_%s_%d.nc",
		date.Format("20060102"), country.Code, ensemble))
	if _, err := os.Stat(sliced); err == nil {
		grid, err := ing.readSliced(sliced, ensemble)
		if err == nil {
			return grid, nil
		}
		ing.Log.WithFields(logrus.Fields{
			"country":  country.Code,
			"ensemble": ensemble,
		}).Warnf("cached sliced file unreadable, re-slicing: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := ing.fetchRaw(ctx, date, ensemble)
		if err != nil {
			lastErr = err
			continue
		}
		err = ing.writeSliced(raw, sliced, country)
		os.Remove(raw)
		if err != nil {
			lastErr = err
			continue
		}
		grid, err := ing.readSliced(sliced, ensemble)
		if err != nil {
			lastErr = err
			continue
		}
		return grid, nil
	}
	return nil, fmt.Errorf("%w: member %d: %v", ErrEnsembleDropped, ensemble, lastErr)
}

// fetchRaw downloads the raw NetCDF of one ensemble member to a temporary
// file and returns its path.
func (ing *Ingest) fetchRaw(ctx context.Context, date time.Time, ensemble int) (string, error) {
	r, err := ing.Source.Fetch(ctx, date, ensemble)
	if err != nil {
		return "", err
	}
	defer r.Close()
	f, err := os.CreateTemp(ing.WorkDir, fmt.Sprintf("dis_%02d_*.nc", ensemble))
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, r)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// dischargeVariable returns the name of the 3-dimensional discharge
// variable in a GloFAS file, together with its dimension names.
func dischargeVariable(f *cdf.File) (string, []string, error) {
	for _, v := range f.Header.Variables() {
		dims := f.Header.Dimensions(v)
		if len(dims) != 3 {
			continue
		}
		if isLatDim(dims[1]) && isLonDim(dims[2]) {
			return v, dims, nil
		}
	}
	return "", nil, fmt.Errorf("floodpipeline: no (time, lat, lon) discharge variable in file")
}

func isLatDim(name string) bool { return name == "lat" || name == "latitude" || name == "y" }
func isLonDim(name string) bool { return name == "lon" || name == "longitude" || name == "x" }

// readAxis reads a 1-dimensional coordinate variable as float64.
func readAxis(f *cdf.File, name string) ([]float64, error) {
	r := f.Reader(name, nil, nil)
	if r == nil {
		return nil, fmt.Errorf("floodpipeline: no coordinate variable %s in file", name)
	}
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("floodpipeline: reading coordinate %s: %v", name, err)
	}
	return toFloat64s(buf), nil
}

func toFloat64s(buf interface{}) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

// axisRange returns the index range (inclusive) of axis values falling
// inside [min, max]. The axis may be ascending or descending.
func axisRange(axis []float64, min, max float64) (i0, i1 int, ok bool) {
	i0, i1 = -1, -1
	for i, v := range axis {
		if v < min || v > max {
			continue
		}
		if i0 < 0 {
			i0 = i
		}
		i1 = i
	}
	return i0, i1, i0 >= 0
}

// writeSliced cuts the raw global NetCDF at rawPath to the country
// bounding box and writes the slice to slicedPath. The slice keeps the
// source resolution; its latitude axis always runs north to south.
func (ing *Ingest) writeSliced(rawPath, slicedPath string, country *Country) error {
	rf, err := os.Open(rawPath)
	if err != nil {
		return err
	}
	defer rf.Close()
	f, err := cdf.Open(rf)
	if err != nil {
		return fmt.Errorf("floodpipeline: opening raw NetCDF: %v", err)
	}
	v, dims, err := dischargeVariable(f)
	if err != nil {
		return err
	}
	lengths := f.Header.Lengths(v)
	nt := lengths[0]
	lats, err := readAxis(f, dims[1])
	if err != nil {
		return err
	}
	lons, err := readAxis(f, dims[2])
	if err != nil {
		return err
	}

	bbox := country.BBox
	latLo, latHi, latOK := axisRange(lats, bbox.Min.Y, bbox.Max.Y)
	lonLo, lonHi, lonOK := axisRange(lons, bbox.Min.X, bbox.Max.X)
	if !latOK || !lonOK {
		return fmt.Errorf("floodpipeline: bounding box of %s does not intersect the source grid",
			country.Code)
	}
	ny := latHi - latLo + 1
	nx := lonHi - lonLo + 1
	descending := len(lats) > 1 && lats[1] < lats[0]

	outLats := make([]float64, ny)
	for i := 0; i < ny; i++ {
		if descending {
			outLats[i] = lats[latLo+i]
		} else {
			outLats[i] = lats[latHi-i]
		}
	}
	outLons := make([]float64, nx)
	copy(outLons, lons[lonLo:lonHi+1])

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{nt, ny, nx})
	h.AddVariable("dis", []string{"time", "lat", "lon"}, []float32{0})
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("dis", "units", "m3 s-1")
	h.Define()

	wf, err := os.Create(slicedPath)
	if err != nil {
		return err
	}
	defer wf.Close()
	out, err := cdf.Create(wf, h)
	if err != nil {
		return fmt.Errorf("floodpipeline: creating sliced NetCDF: %v", err)
	}
	if _, err := out.Writer("lat", nil, nil).Write(outLats); err != nil && err != io.EOF {
		return err
	}
	if _, err := out.Writer("lon", nil, nil).Write(outLons); err != nil && err != io.EOF {
		return err
	}

	// cdf's strider maps a begin/end pair on a fixed variable to one
	// contiguous byte range, not a lat/lon hyperslab, so read the full
	// grid per step and subset rows/columns in memory.
	nyFull, nxFull := len(lats), len(lons)
	slab := make([]float32, ny*nx)
	for t := 0; t < nt; t++ {
		r := f.Reader(v, []int{t, 0, 0}, []int{t + 1, nyFull, nxFull})
		buf := r.Zero(nyFull * nxFull)
		if _, err := r.Read(buf); err != nil && err != io.EOF {
			return fmt.Errorf("floodpipeline: reading %s at step %d: %v", v, t, err)
		}
		vals := toFloat64s(buf)
		for row := 0; row < ny; row++ {
			srcRow := latLo + row
			if !descending {
				srcRow = latHi - row
			}
			for col := 0; col < nx; col++ {
				slab[row*nx+col] = float32(vals[srcRow*nxFull+lonLo+col])
			}
		}
		if _, err := out.Writer("dis", []int{t, 0, 0}, []int{t + 1, ny, nx}).Write(slab); err != nil && err != io.EOF {
			return err
		}
	}
	return cdf.UpdateNumRecs(wf)
}

// readSliced reads a sliced per-country NetCDF into one raster per lead
// time.
func (ing *Ingest) readSliced(path string, ensemble int) (*ensembleGrid, error) {
	rf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer rf.Close()
	f, err := cdf.Open(rf)
	if err != nil {
		return nil, fmt.Errorf("floodpipeline: opening sliced NetCDF %s: %v", path, err)
	}
	lats, err := readAxis(f, "lat")
	if err != nil {
		return nil, err
	}
	lons, err := readAxis(f, "lon")
	if err != nil {
		return nil, err
	}
	if len(lats) < 1 || len(lons) < 1 {
		return nil, fmt.Errorf("floodpipeline: sliced NetCDF %s has an empty grid", path)
	}
	dy, dx := 0.1, 0.1 // fall back to the GloFAS grid for single-cell slices
	if len(lats) > 1 {
		dy = math.Abs(lats[1] - lats[0])
	}
	if len(lons) > 1 {
		dx = lons[1] - lons[0]
	}
	ny, nx := len(lats), len(lons)
	nt := f.Header.Lengths("dis")[0]

	grid := &ensembleGrid{ensemble: ensemble, rasters: make([]*Raster, nt)}
	for t := 0; t < nt; t++ {
		r := f.Reader("dis", []int{t, 0, 0}, []int{t + 1, ny, nx})
		buf := r.Zero(ny * nx)
		if _, err := r.Read(buf); err != nil && err != io.EOF {
			return nil, fmt.Errorf("floodpipeline: reading sliced NetCDF %s at step %d: %v",
				path, t, err)
		}
		// Coordinates are cell centers; row 0 is the northernmost row.
		ras := NewRaster(lons[0]-dx/2, lats[0]+dy/2, dx, dy, nx, ny)
		copy(ras.Data.Elements, toFloat64s(buf))
		grid.rasters[t] = ras
	}
	return grid, nil
}

// reduceAdmin computes the per-admin-area discharge ensembles with a
// zonal maximum over each area, in parallel across ensemble members.
// Ensemble vectors are assembled in ensemble-index order.
func (ing *Ingest) reduceAdmin(ctx context.Context, country *Country, date time.Time, grids []*ensembleGrid) (*DischargeAdminDataset, error) {
	d := NewDischargeAdminDataset(country.Code, date, country.AdmLevels)

	type sample map[adminKey]float64
	samples := make([]sample, len(grids))
	errChan := make(chan error)
	for i, grid := range grids {
		go func(i int, grid *ensembleGrid) {
			s := make(sample)
			for _, lvl := range country.AdmLevels {
				for _, area := range ing.Boundaries.Level(lvl) {
					for t, ras := range grid.rasters {
						if t >= MaxLeadTime {
							break
						}
						v := ras.ZonalMax(area.Polygonal)
						if math.IsNaN(v) {
							v = 0
						}
						s[adminKey{area.Pcode, t + 1}] = v
					}
				}
			}
			samples[i] = s
			errChan <- nil
		}(i, grid)
	}
	for range grids {
		if err := <-errChan; err != nil {
			return nil, err
		}
	}

	for _, lvl := range country.AdmLevels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		areas := ing.Boundaries.Level(lvl)
		if len(areas) == 0 {
			ing.Log.WithFields(logrus.Fields{
				"country":  country.Code,
				"admLevel": lvl,
			}).Warnf("skipping admin level: %v", ErrAdminLevelMissing)
			continue
		}
		for _, area := range areas {
			for lt := 1; lt <= MaxLeadTime; lt++ {
				ensemble := make([]float64, 0, len(grids))
				for _, s := range samples {
					if v, ok := s[adminKey{area.Pcode, lt}]; ok {
						ensemble = append(ensemble, v)
					}
				}
				if len(ensemble) < country.Policy.EnsembleMembers {
					ing.Log.WithFields(logrus.Fields{
						"country":  country.Code,
						"pcode":    area.Pcode,
						"leadTime": lt,
						"members":  len(ensemble),
						"expected": country.Policy.EnsembleMembers,
					}).Warn("short ensemble vector")
				}
				d.Upsert(&DischargeAdmin{
					AdmLevel: lvl,
					Pcode:    area.Pcode,
					LeadTime: lt,
					Ensemble: ensemble,
					Mean:     EnsembleMean(ensemble),
				})
			}
		}
	}
	return d, nil
}

// reduceStations samples the sliced rasters at each gauge station
// location.
func (ing *Ingest) reduceStations(ctx context.Context, country *Country, date time.Time, grids []*ensembleGrid) (*DischargeStationDataset, error) {
	d := NewDischargeStationDataset(country.Code, date)
	for _, st := range ing.Thresholds.Stations() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for lt := 1; lt <= MaxLeadTime; lt++ {
			ensemble := make([]float64, 0, len(grids))
			for _, grid := range grids {
				if lt-1 >= len(grid.rasters) {
					continue
				}
				v := grid.rasters[lt-1].Sample(st.Lon, st.Lat)
				if math.IsNaN(v) {
					v = 0
				}
				ensemble = append(ensemble, v)
			}
			d.Upsert(&DischargeStation{
				StationCode: st.StationCode,
				StationName: st.StationName,
				Lat:         st.Lat,
				Lon:         st.Lon,
				Pcodes:      st.Pcodes,
				LeadTime:    lt,
				Ensemble:    ensemble,
				Mean:        EnsembleMean(ensemble),
			})
		}
	}
	return d, nil
}
