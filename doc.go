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

// Package floodpipeline is a river-flood early-warning pipeline. For
// each configured country it ingests global ensemble river-discharge
// forecasts, derives per-admin-area and per-station flood likelihoods
// across lead times, classifies trigger and alert states, assembles
// flood-extent rasters and population exposure, and hands the resulting
// snapshot to a publisher.
package floodpipeline

// Version gives the version number.
const Version = "1.0.0"
