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


package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
	"gonum.org/v1/gonum/interp"
)

// A non-linearity calibration table: relative gain values on a grid of EM
// gains (columns) and measured counts (rows). Both axes must be strictly
// increasing, and every gain curve must contain or straddle a relative gain
// of 1.0 somewhere along the count axis
type NonLinearity struct {
	GainAxis  []float64    `json:"gainAxis"`   // column headers, EM gains
	CountAxis []float64    `json:"countAxis"`  // row headers, counts in DN
	RelGains  [][]float64  `json:"relGains"`   // [countIdx][gainIdx] relative gains
}

// Validates axis monotonicity and gain curve sanity
func (nl *NonLinearity) Validate() error {
	if len(nl.GainAxis)==0 || len(nl.CountAxis)==0 { return errors.New("non-linearity table must not be empty") }
	for i:=1; i<len(nl.GainAxis); i++ {
		if nl.GainAxis[i]<=nl.GainAxis[i-1] { return errors.New("Gain axis (column headers) must be increasing") }
	}
	for i:=1; i<len(nl.CountAxis); i++ {
		if nl.CountAxis[i]<=nl.CountAxis[i-1] { return errors.New("Counts axis (row headers) must be increasing") }
	}
	if len(nl.RelGains)!=len(nl.CountAxis) { return errors.New("relative gain rows must match count axis length") }
	for g:=range nl.GainAxis {
		minRg, maxRg:=nl.RelGains[0][g], nl.RelGains[0][g]
		for _,row:=range nl.RelGains {
			if len(row)!=len(nl.GainAxis) { return errors.New("relative gain columns must match gain axis length") }
			if row[g]<minRg { minRg=row[g] }
			if row[g]>maxRg { maxRg=row[g] }
		}
		if minRg>1 || maxRg<1 {
			return errors.New("Gain curves (array columns) must contain or straddle a relative gain of 1.0")
		}
	}
	return nil
}

// RelGainCurve linearly interpolates the table along the gain axis, returning
// the relative gain curve over the count axis for the given EM gain.
// Out-of-bounds gains use the edge curves
func (nl *NonLinearity) RelGainCurve(emGain float64) ([]float64, error) {
	curve:=make([]float64, len(nl.CountAxis))
	row:=make([]float64, len(nl.GainAxis))
	var pl interp.PiecewiseLinear
	for i:=range nl.CountAxis {
		copy(row, nl.RelGains[i])
		if err:=pl.Fit(nl.GainAxis, row); err!=nil { return nil, err }
		curve[i]=pl.Predict(clamp(emGain, nl.GainAxis[0], nl.GainAxis[len(nl.GainAxis)-1]))
	}
	return curve, nil
}

func clamp(x, lo, hi float64) float64 {
	if x<lo { return lo }
	if x>hi { return hi }
	return x
}


// Corrects frames for EM register non-linearity by multiplying each pixel
// with its relative gain, interpolated from a calibration table at the
// frame's resolved EM gain. Takes n inputs, produces n outputs
type OpNonLin struct {
	ops.OpUnaryBase
	Table      *NonLinearity       `json:"table"`
	GainOrder  []frame.GainSource  `json:"gainOrder"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpNonLinDefault() })} // register the operator for JSON decoding

func NewOpNonLinDefault() *OpNonLin { return NewOpNonLin(nil) }

func NewOpNonLin(table *NonLinearity) *OpNonLin {
	op:=&OpNonLin{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "nonLin", Active: table!=nil}},
		Table      : table,
		GainOrder  : frame.DefaultGainOrder,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpNonLin) UnmarshalJSON(data []byte) error {
	type defaults OpNonLin
	def:=defaults( *NewOpNonLinDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpNonLin(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpNonLin) Apply(f *frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	if op.Table==nil { return nil, fmt.Errorf("%s operator needs a non-linearity table", op.Type) }
	if err:=op.Table.Validate(); err!=nil { return nil, err }

	emGain:=float64(f.Meta.ResolveGain(op.GainOrder))
	curve, err:=op.Table.RelGainCurve(emGain)
	if err!=nil { return nil, err }

	// 1-D linear interpolation over the count axis, with edge values as
	// constant extrapolations for out of bounds counts
	var pl interp.PiecewiseLinear
	if err:=pl.Fit(op.Table.CountAxis, curve); err!=nil { return nil, err }
	lo, hi:=op.Table.CountAxis[0], op.Table.CountAxis[len(op.Table.CountAxis)-1]

	res:=f.Copy()
	for i,d:=range res.Data {
		rg:=float32(pl.Predict(clamp(float64(d), lo, hi)))
		res.Data[i]=d*rg
		res.Err[i]*=rg
	}
	res.AddHistory(fmt.Sprintf("Non-linearity corrected with relative gains at em_gain %g", emGain))
	return res, nil
}
