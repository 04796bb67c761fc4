// Copyright (C) 2024 Marek Feld
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package pc converts stacks of analog EMCCD frames taken at high gain and
// short exposure into mean expected electron counts per pixel, correcting
// for thresholding and coincidence loss and propagating uncertainties.
package pc

import (
	"errors"
)

// Digitize converts an analog electron count array into a binary
// photon/no-photon indicator array. Values strictly greater than thresh
// map to 1, values less than or equal to thresh map to 0.
// The threshold sign is not checked here; that is the caller's concern.
func Digitize(counts []float32, thresh float32) ([]int32, error) {
	if len(counts)==0 { return nil, errors.New("array must have length > 0") }
	res:=make([]int32, len(counts))
	for i,c:=range counts {
		if c>thresh { res[i]=1 }
	}
	return res, nil
}
