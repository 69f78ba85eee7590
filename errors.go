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

import "errors"

// Errors returned by the pipeline stages. Wrapped versions of these
// sentinels carry the stage-specific detail; callers classify with
// errors.Is.
var (
	// ErrConfigMissing indicates that a required configuration entry
	// for a country is absent. Fatal for the country.
	ErrConfigMissing = errors.New("floodpipeline: configuration missing")

	// ErrPolicyInvalid indicates an inconsistent per-country trigger or
	// alert policy. Fatal for the country.
	ErrPolicyInvalid = errors.New("floodpipeline: invalid country policy")

	// ErrThresholdMissing indicates that a return period referenced by
	// the policy is not present in the loaded thresholds. Fatal for the
	// country.
	ErrThresholdMissing = errors.New("floodpipeline: threshold missing")

	// ErrSourceUnavailable indicates that the forecast source could not
	// provide any data. Fatal for the country.
	ErrSourceUnavailable = errors.New("floodpipeline: forecast source unavailable")

	// ErrEnsembleDropped indicates that a single ensemble member could
	// not be processed. The run continues with a reduced ensemble.
	ErrEnsembleDropped = errors.New("floodpipeline: ensemble member dropped")

	// ErrAdminLevelMissing indicates that boundaries for a configured
	// admin level could not be loaded. The run continues without that
	// level.
	ErrAdminLevelMissing = errors.New("floodpipeline: admin level missing")

	// ErrBoundaryMissing indicates that no usable admin boundaries exist
	// for the country. Fatal for the country.
	ErrBoundaryMissing = errors.New("floodpipeline: admin boundaries missing")

	// ErrRetryableIO indicates a transient I/O failure; it is retried
	// with backoff and upgraded to fatal when the retry budget is
	// exhausted.
	ErrRetryableIO = errors.New("floodpipeline: retryable I/O failure")

	// ErrDownstreamRejected indicates that the IBF API rejected a
	// request. Fatal for the country; the run aborts before
	// events/process.
	ErrDownstreamRejected = errors.New("floodpipeline: downstream API rejected request")
)

// Recoverable reports whether the pipeline may continue with reduced data
// after err.
func Recoverable(err error) bool {
	return errors.Is(err, ErrEnsembleDropped) || errors.Is(err, ErrAdminLevelMissing)
}
