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
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline"
)

// BoundariesKey returns the storage key of the admin boundary feature
// collection for one country and admin level.
func BoundariesKey(country string, admLevel int) string {
	return fmt.Sprintf("admin-boundaries/%s/%s_adm%d.json", country, country, admLevel)
}

// AdminThresholdsKey returns the storage key of the admin threshold
// document for one country.
func AdminThresholdsKey(country string) string {
	return fmt.Sprintf("thresholds/%s/admin.json", country)
}

// StationThresholdsKey returns the storage key of the station threshold
// document for one country.
func StationThresholdsKey(country string) string {
	return fmt.Sprintf("thresholds/%s/stations.json", country)
}

// BlobStaticData loads boundaries and thresholds from blob storage. It
// satisfies the pipeline's StaticData interface.
type BlobStaticData struct {
	Store floodpipeline.BlobStore
	Log   logrus.FieldLogger
}

// NewBlobStaticData creates a BlobStaticData reading from store.
func NewBlobStaticData(store floodpipeline.BlobStore) *BlobStaticData {
	return &BlobStaticData{Store: store, Log: logrus.StandardLogger()}
}

// Boundaries loads the admin boundary polygons of every configured admin
// level. A level whose boundary file is missing is skipped with a
// warning; a country with no loadable level at all is an error.
func (d *BlobStaticData) Boundaries(ctx context.Context, country *floodpipeline.Country) (*floodpipeline.AdminBoundaries, error) {
	b := floodpipeline.NewAdminBoundaries(country.Code)
	for _, lvl := range country.AdmLevels {
		r, err := d.Store.Get(ctx, BoundariesKey(country.Code, lvl))
		if err != nil {
			d.Log.WithFields(logrus.Fields{
				"country":  country.Code,
				"admLevel": lvl,
			}).Warnf("skipping admin level: %v: %v", floodpipeline.ErrAdminLevelMissing, err)
			continue
		}
		err = b.LoadLevel(lvl, r)
		r.Close()
		if err != nil {
			return nil, err
		}
	}
	if len(b.Levels()) == 0 {
		return nil, fmt.Errorf("%w: no admin level could be loaded for %s",
			floodpipeline.ErrBoundaryMissing, country.Code)
	}
	return b, nil
}

// Thresholds loads the admin and station threshold documents, validating
// station back-references against the loaded boundaries.
func (d *BlobStaticData) Thresholds(ctx context.Context, country *floodpipeline.Country, boundaries *floodpipeline.AdminBoundaries) (*floodpipeline.ThresholdStore, error) {
	admin, err := d.Store.Get(ctx, AdminThresholdsKey(country.Code))
	if err != nil {
		return nil, fmt.Errorf("%w: admin thresholds for %s: %v",
			floodpipeline.ErrConfigMissing, country.Code, err)
	}
	defer admin.Close()
	stations, err := d.Store.Get(ctx, StationThresholdsKey(country.Code))
	if err != nil {
		return nil, fmt.Errorf("%w: station thresholds for %s: %v",
			floodpipeline.ErrConfigMissing, country.Code, err)
	}
	defer stations.Close()
	return floodpipeline.LoadThresholds(country.Code, admin, stations, boundaries)
}
