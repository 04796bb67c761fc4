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


// Package calib implements the analog calibration steps applied to frames
// before photon counting: master dark construction and subtraction, EM gain
// division, and non-linearity relative gain correction.
package calib

import (
	"encoding/json"
	"fmt"
	"math"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
)

// Combines a stack of dark exposures into one master dark calibration frame.
// Takes n inputs, produces one output
type OpDarkCombine struct {
	ops.OpBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDarkCombineDefault() })} // register the operator for JSON decoding

func NewOpDarkCombineDefault() *OpDarkCombine {
	return &OpDarkCombine{OpBase: ops.OpBase{Type: "darkCombine", Active: true}}
}

func (op *OpDarkCombine) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator needs inputs", op.Type) }

	out:=func() (f *frame.Frame, err error) {
		fs, err:=ops.MaterializeAll(ins, c.MaxThreads)
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []ops.Promise{out}, nil
}

// Per-pixel mean over the dark stack, skipping flagged pixels, with the
// standard error of the mean stddev/sqrt(n) as the uncertainty. Pixels
// flagged in every frame come back flagged in the master dark
func (op *OpDarkCombine) Apply(fs []*frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	s, err:=frame.NewStack(fs)
	if err!=nil { return nil, err }
	fmt.Fprintf(c.Log, "Combining %d dark frames into master dark\n", len(fs))

	res:=frame.NewFrameFromFrame(fs[0])
	pixels:=int(fs[0].Pixels)
	sum  :=make([]float64, pixels)
	sumSq:=make([]float64, pixels)
	n    :=make([]float64, pixels)
	for _,f:=range s.Frames {
		for i,dq:=range f.DQ {
			if dq!=0 { continue }
			d:=float64(f.Data[i])
			sum[i]+=d
			sumSq[i]+=d*d
			n[i]++
		}
	}
	for i:=range res.Data {
		if n[i]==0 {
			res.DQ[i]=1
			continue
		}
		mean:=sum[i]/n[i]
		variance:=sumSq[i]/n[i] - mean*mean
		if variance<0 { variance=0 }  // numeric cancellation
		res.Data[i]=float32(mean)
		res.Err[i]=float32(math.Sqrt(variance/n[i]))
	}
	res.AddHistory(fmt.Sprintf("Master dark combined from %d frames", len(fs)))
	return res, nil
}


// Subtracts the master dark frame from the execution context, propagating
// the dark frame uncertainty. Takes n inputs, produces n outputs
type OpDarkSub struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDarkSubDefault() })} // register the operator for JSON decoding

func NewOpDarkSubDefault() *OpDarkSub {
	op:=&OpDarkSub{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "darkSub", Active: true}}}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDarkSub) UnmarshalJSON(data []byte) error {
	type defaults OpDarkSub
	def:=defaults( *NewOpDarkSubDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpDarkSub(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpDarkSub) Apply(f *frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	dark:=c.DarkFrame
	if dark==nil { return nil, fmt.Errorf("%s operator needs a dark frame in the context", op.Type) }
	if !frame.EqualInt32Slice(f.Naxisn, dark.Naxisn) {
		return nil, fmt.Errorf("%d: dark dimensions %s do not match frame dimensions %s",
		                       f.ID, dark.DimensionsToString(), f.DimensionsToString())
	}

	res:=f.Copy()
	for i,d:=range dark.Data {
		res.Data[i]-=d
		de:=dark.Err[i]
		res.Err[i]=float32(math.Sqrt(float64(res.Err[i]*res.Err[i] + de*de)))
		res.DQ[i]|=dark.DQ[i]
	}
	res.AddHistory("Dark current subtracted using master dark")
	return res, nil
}
