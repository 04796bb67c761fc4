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
	"fmt"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
)

// Divides counts and uncertainties by the commanded EM gain, converting
// electrons to photo-electrons. Takes n inputs, produces n outputs
type OpGainDiv struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpGainDivDefault() })} // register the operator for JSON decoding

func NewOpGainDivDefault() *OpGainDiv {
	op:=&OpGainDiv{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "gainDiv", Active: true}}}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpGainDiv) UnmarshalJSON(data []byte) error {
	type defaults OpGainDiv
	def:=defaults( *NewOpGainDivDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpGainDiv(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpGainDiv) Apply(f *frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	gain:=f.Meta.CmdGain
	if gain<=0 { return nil, fmt.Errorf("%d: commanded EM gain %g must be positive for gain division", f.ID, gain) }

	res:=f.Copy()
	inv:=1/gain
	for i:=range res.Data {
		res.Data[i]*=inv
		res.Err[i]*=inv
	}
	res.AddHistory(fmt.Sprintf("data divided by em_gain %g", gain))
	return res, nil
}
