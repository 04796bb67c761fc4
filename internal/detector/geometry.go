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


// Package detector describes the region layout of an EMCCD science frame:
// the physical imaging area plus the virtual prescan and overscan regions
// read out around it, which carry bias and read noise but no sky signal.
package detector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"gopkg.in/yaml.v3"
	"github.com/mfeld/emcount/internal/frame"
)

// A rectangular detector region in full-frame coordinates
type Region struct {
	Rows int32    `yaml:"rows"`
	Cols int32    `yaml:"cols"`
	R0C0 [2]int32 `yaml:"r0c0"`  // initial row and column
}

// Region layout of one observation type of the detector
type Geometry struct {
	FrameRows int32             `yaml:"frame_rows"`
	FrameCols int32             `yaml:"frame_cols"`
	Geom      map[string]Region `yaml:"geom"`
}

// Region layout of the EXCAM science frame
var SCI=&Geometry{
	FrameRows: 1200,
	FrameCols: 2200,
	Geom: map[string]Region{
		"image"            : {Rows: 1024, Cols: 1024, R0C0: [2]int32{13, 1088}},
		"prescan"          : {Rows: 1200, Cols: 1088, R0C0: [2]int32{0, 0}},
		"prescan_reliable" : {Rows: 1200, Cols:  200, R0C0: [2]int32{0, 800}},
		"parallel_overscan": {Rows:  163, Cols: 1056, R0C0: [2]int32{1037, 1088}},
		"serial_overscan"  : {Rows: 1200, Cols:   56, R0C0: [2]int32{0, 2144}},
	},
}

// Region layout of the EXCAM engineering frame
var ENG=&Geometry{
	FrameRows: 2200,
	FrameCols: 2200,
	Geom: map[string]Region{
		"image"            : {Rows: 1024, Cols: 1024, R0C0: [2]int32{13, 1088}},
		"prescan"          : {Rows: 2200, Cols: 1088, R0C0: [2]int32{0, 0}},
		"prescan_reliable" : {Rows: 2200, Cols:  200, R0C0: [2]int32{0, 800}},
		"parallel_overscan": {Rows: 1163, Cols: 1056, R0C0: [2]int32{1037, 1088}},
		"serial_overscan"  : {Rows: 2200, Cols:   56, R0C0: [2]int32{0, 2144}},
	},
}

// Reads a region layout from YAML
func LoadGeometry(r io.Reader) (*Geometry, error) {
	bs, err:=io.ReadAll(r)
	if err!=nil { return nil, err }
	g:=&Geometry{}
	if err:=yaml.Unmarshal(bs, g); err!=nil { return nil, err }
	if g.FrameRows<=0 || g.FrameCols<=0 || len(g.Geom)==0 {
		return nil, errors.New("geometry must define frame_rows, frame_cols and geom regions")
	}
	return g, nil
}

// Reads a region layout from a YAML file
func LoadGeometryFile(fileName string) (*Geometry, error) {
	f, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer f.Close()
	return LoadGeometry(f)
}

// Returns the named region, or an error if the geometry does not define it
func (g *Geometry) Section(key string) (Region, error) {
	r, ok:=g.Geom[key]
	if !ok { return Region{}, fmt.Errorf("geometry has no section '%s'", key) }
	return r, nil
}

// SliceSection cuts the named region out of a full frame into a fresh frame.
// The input frame must have the full-frame dimensions of the geometry
func (g *Geometry) SliceSection(f *frame.Frame, key string) (*frame.Frame, error) {
	r, err:=g.Section(key)
	if err!=nil { return nil, err }
	return g.slice(f, r)
}

// Geometry of the imaging area in reference to the full frame: the physical
// pixels remaining once prescan and overscan are excluded
func (g *Geometry) ImagingArea() (Region, error) {
	pre, err:=g.Section("prescan")
	if err!=nil { return Region{}, err }
	serialOvr, err:=g.Section("serial_overscan")
	if err!=nil { return Region{}, err }
	parallelOvr, err:=g.Section("parallel_overscan")
	if err!=nil { return Region{}, err }
	image, err:=g.Section("image")
	if err!=nil { return Region{}, err }

	rowsIm:=g.FrameRows - parallelOvr.Rows
	colsIm:=g.FrameCols - pre.Cols - serialOvr.Cols
	r0c0:=image.R0C0
	r0c0[0]-=rowsIm - image.Rows
	return Region{Rows: rowsIm, Cols: colsIm, R0C0: r0c0}, nil
}

// ImagingSlice selects only the real counts from a full frame and excludes
// the virtual prescan and overscan regions
func (g *Geometry) ImagingSlice(f *frame.Frame) (*frame.Frame, error) {
	r, err:=g.ImagingArea()
	if err!=nil { return nil, err }
	return g.slice(f, r)
}

func (g *Geometry) slice(f *frame.Frame, r Region) (*frame.Frame, error) {
	if len(f.Naxisn)!=2 || f.Naxisn[0]!=g.FrameCols || f.Naxisn[1]!=g.FrameRows {
		return nil, fmt.Errorf("frame dimensions %s do not match geometry %dx%d",
		                       f.DimensionsToString(), g.FrameCols, g.FrameRows)
	}
	if r.Rows<=0 || r.Cols<=0 ||
	   r.R0C0[0]<0 || r.R0C0[0]+r.Rows>g.FrameRows ||
	   r.R0C0[1]<0 || r.R0C0[1]+r.Cols>g.FrameCols {
		return nil, errors.New("Corners invalid")
	}

	res:=frame.NewFrameFromNaxisn([]int32{r.Cols, r.Rows}, nil, nil, nil)
	res.ID=f.ID
	res.Meta=f.Meta
	res.History=append([]string(nil), f.History...)
	width:=f.Naxisn[0]
	for y:=int32(0); y<r.Rows; y++ {
		srcOff:=(r.R0C0[0]+y)*width + r.R0C0[1]
		dstOff:=y*r.Cols
		copy(res.Data[dstOff:dstOff+r.Cols], f.Data[srcOff:srcOff+r.Cols])
		copy(res.Err [dstOff:dstOff+r.Cols], f.Err [srcOff:srcOff+r.Cols])
		copy(res.DQ  [dstOff:dstOff+r.Cols], f.DQ  [srcOff:srcOff+r.Cols])
	}
	return res, nil
}
