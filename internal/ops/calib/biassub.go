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
	"strings"
	"github.com/mfeld/emcount/internal/detector"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
)

// Subtracts the row-wise readout bias measured in the reliable prescan
// region, estimates the read noise from the prescan residuals, and cuts the
// full frame down to the imaging area. Takes n inputs, produces n outputs
type OpBiasSub struct {
	ops.OpUnaryBase
	Geometry string `json:"geometry"` // "sci", "eng" or a YAML file name
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBiasSubDefault() })} // register the operator for JSON decoding

func NewOpBiasSubDefault() *OpBiasSub { return NewOpBiasSub("sci") }

func NewOpBiasSub(geometry string) *OpBiasSub {
	op:=&OpBiasSub{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "biasSub", Active: true}},
		Geometry:    geometry,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBiasSub) UnmarshalJSON(data []byte) error {
	type defaults OpBiasSub
	def:=defaults( *NewOpBiasSubDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpBiasSub(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpBiasSub) geometry() (*detector.Geometry, error) {
	switch strings.ToLower(op.Geometry) {
	case "", "sci": return detector.SCI, nil
	case "eng":     return detector.ENG, nil
	}
	return detector.LoadGeometryFile(op.Geometry)
}

func (op *OpBiasSub) Apply(f *frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	geo, err:=op.geometry()
	if err!=nil { return nil, err }

	res:=f.Copy()
	residual, err:=geo.SubtractBias(res)
	if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }
	sigma, err:=detector.EstimateReadNoise(residual)
	if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }
	res.Meta.ReadNoise=sigma

	res, err=geo.ImagingSlice(res)
	if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }
	fmt.Fprintf(c.Log, "%d: bias subtracted, read noise %.2f DN, imaging slice %s\n",
	            res.ID, sigma, res.DimensionsToString())
	res.AddHistory(fmt.Sprintf("Read noise estimated from prescan residuals: %.3f DN", sigma))
	return res, nil
}
