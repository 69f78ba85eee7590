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

package pipelineutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/ctessum/geom"

	floodpipeline "github.com/rodekruis/IBF-river-flood-pipeline"
)

// blobMap is an in-memory BlobStore. Gets of keys in failures fail that
// many times with failErr before succeeding.
type blobMap struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	failures map[string]int
	failErr  error
}

func newBlobMap() *blobMap {
	return &blobMap{blobs: make(map[string][]byte), failures: make(map[string]int)}
}

func (s *blobMap) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[key] > 0 {
		s.failures[key]--
		return nil, s.failErr
	}
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no blob %s", key)
	}
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

func (s *blobMap) Put(ctx context.Context, key string, r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[key] = b
	s.mu.Unlock()
	return nil
}

const boundaryLevel1 = `{"type": "FeatureCollection", "features": [
	{"type": "Feature", "properties": {"ADM1_PCODE": "P1"},
	 "geometry": {"type": "Polygon",
		"coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]}}]}`

func staticCountry() *floodpipeline.Country {
	return &floodpipeline.Country{
		Code:      "UGA",
		AdmLevels: []int{1, 2},
		BBox: &geom.Bounds{
			Min: geom.Point{X: 0, Y: 0},
			Max: geom.Point{X: 4, Y: 4},
		},
	}
}

func TestBlobStaticDataBoundaries(t *testing.T) {
	store := newBlobMap()
	store.blobs[BoundariesKey("UGA", 1)] = []byte(boundaryLevel1)
	// Level 2 is absent and must be skipped, not fail the country.

	d := NewBlobStaticData(store)
	b, err := d.Boundaries(context.Background(), staticCountry())
	if err != nil {
		t.Fatal(err)
	}
	if !b.Has(1, "P1") {
		t.Error("Has(1, P1) = false, want true")
	}
	if got := b.Levels(); len(got) != 1 || got[0] != 1 {
		t.Errorf("levels = %v, want [1]", got)
	}
}

func TestBlobStaticDataNoBoundaries(t *testing.T) {
	d := NewBlobStaticData(newBlobMap())
	if _, err := d.Boundaries(context.Background(), staticCountry()); !errors.Is(err, floodpipeline.ErrBoundaryMissing) {
		t.Errorf("err = %v, want ErrBoundaryMissing", err)
	}
}

func TestBlobStaticDataThresholds(t *testing.T) {
	store := newBlobMap()
	store.blobs[BoundariesKey("UGA", 1)] = []byte(boundaryLevel1)
	store.blobs[AdminThresholdsKey("UGA")] = []byte(`[{"adm_level": 1, "pcode": "P1",
		"thresholds": [{"return_period": 2, "threshold_value": 10}]}]`)
	store.blobs[StationThresholdsKey("UGA")] = []byte(`[{"station_code": "G1",
		"station_name": "Gauge One", "lat": 0.5, "lon": 0.5,
		"pcodes": {"1": ["P1"]},
		"thresholds": [{"return_period": 2, "threshold_value": 10}]}]`)

	d := NewBlobStaticData(store)
	ctx := context.Background()
	b, err := d.Boundaries(ctx, staticCountry())
	if err != nil {
		t.Fatal(err)
	}
	thresholds, err := d.Thresholds(ctx, staticCountry(), b)
	if err != nil {
		t.Fatal(err)
	}
	if thresholds.Admin(1, "P1") == nil {
		t.Error("no admin thresholds for P1")
	}
	if thresholds.Station("G1") == nil {
		t.Error("no station thresholds for G1")
	}
}

func TestBlobStaticDataMissingThresholds(t *testing.T) {
	store := newBlobMap()
	store.blobs[BoundariesKey("UGA", 1)] = []byte(boundaryLevel1)
	d := NewBlobStaticData(store)
	ctx := context.Background()
	b, err := d.Boundaries(ctx, staticCountry())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Thresholds(ctx, staticCountry(), b); !errors.Is(err, floodpipeline.ErrConfigMissing) {
		t.Errorf("err = %v, want ErrConfigMissing", err)
	}
}

func TestGloFASSourceMissingFileIsFatal(t *testing.T) {
	source := NewGloFASSource(newBlobMap())
	source.Deadline = time.Second
	_, err := source.Fetch(context.Background(), time.Now().UTC(), 0)
	if !errors.Is(err, floodpipeline.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestGloFASSourceRetriesConnectionCap(t *testing.T) {
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newBlobMap()
	key := floodpipeline.RawEnsembleKey(date, 0)
	store.blobs[key] = []byte("netcdf bytes")
	store.failures[key] = 1
	store.failErr = errors.New("421 maximum number of connections exceeded")

	source := NewGloFASSource(store)
	source.Deadline = 30 * time.Second
	r, err := source.Fetch(context.Background(), date, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "netcdf bytes" {
		t.Errorf("fetched %q, want the stored bytes", data)
	}
}

func TestRetryableFetch(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"421 maximum number of connections exceeded", true},
		{"read tcp: connection reset by peer", true},
		{"dial tcp: connection refused", true},
		{"i/o timeout", true},
		{"resource temporarily unavailable", true},
		{"no blob glofas-data/x.nc", false},
		{"access denied", false},
	}
	for _, test := range tests {
		if got := retryableFetch(errors.New(test.err)); got != test.want {
			t.Errorf("retryableFetch(%q) = %v, want %v", test.err, got, test.want)
		}
	}
}

func TestBucketStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewBucketStore(ctx, "file://"+t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "some-key", bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatal(err)
	}
	r, err := store.Get(ctx, "some-key")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("read %q, want payload", data)
	}
}
