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

// Command floodpipeline is a command-line interface for the river-flood
// early-warning pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/rodekruis/IBF-river-flood-pipeline/pipelineutil"
)

func main() {
	if err := pipelineutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
