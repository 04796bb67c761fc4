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


package detector

import (
	"errors"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/stats"
)

// SubtractBias removes the row-wise readout bias from a full frame in place.
// For each row, the bias is the median of the reliable prescan columns of that
// row. Returns the bias-subtracted prescan values for noise estimation
func (g *Geometry) SubtractBias(f *frame.Frame) ([]float32, error) {
	rel, err:=g.Section("prescan_reliable")
	if err!=nil { return nil, err }
	if len(f.Naxisn)!=2 || f.Naxisn[0]!=g.FrameCols || f.Naxisn[1]!=g.FrameRows {
		return nil, errors.New("frame dimensions do not match geometry")
	}

	width   :=f.Naxisn[0]
	residual:=make([]float32, rel.Rows*rel.Cols)
	scratch :=make([]float32, rel.Cols)
	for y:=int32(0); y<rel.Rows; y++ {
		rowOff:=(rel.R0C0[0]+y)*width
		copy(scratch, f.Data[rowOff+rel.R0C0[1]:rowOff+rel.R0C0[1]+rel.Cols])
		bias:=stats.QSelectMedian(scratch)

		row:=f.Data[rowOff:rowOff+width]
		for x:=range row { row[x]-=bias }
		copy(residual[y*rel.Cols:(y+1)*rel.Cols],
		     f.Data[rowOff+rel.R0C0[1]:rowOff+rel.R0C0[1]+rel.Cols])
	}
	f.AddHistory("Prescan bias subtracted row-wise from reliable prescan medians")
	return residual, nil
}

// EstimateReadNoise fits a Gaussian to the histogram of bias-subtracted
// prescan values and returns its sigma in DN. The prescan sees no light, so
// the residual distribution is the read noise alone
func EstimateReadNoise(residual []float32) (float32, error) {
	if len(residual)==0 { return 0, errors.New("array must have length > 0") }
	st:=stats.NewStats(residual)
	min, max:=st.Min(), st.Max()
	if !(min<max) { return 0, errors.New("prescan residuals are constant") }

	bins:=make([]int32, 256)
	stats.Histogram(residual, min, max, bins)
	_, sigma, err:=stats.FitGaussianPeak(bins, min, max)
	if err!=nil { return 0, err }
	return sigma, nil
}

// CalibrateReadNoise subtracts the prescan bias from every frame of a stack
// and sets each frame's read noise metadata from its own prescan residuals
func (g *Geometry) CalibrateReadNoise(fs []*frame.Frame) error {
	for _, f:=range fs {
		residual, err:=g.SubtractBias(f)
		if err!=nil { return err }
		sigma, err:=EstimateReadNoise(residual)
		if err!=nil { return err }
		f.Meta.ReadNoise=sigma
	}
	return nil
}
