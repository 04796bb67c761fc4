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
	"math/rand"
	"strings"
	"testing"
	"github.com/mfeld/emcount/internal/frame"
)

// A 6x10 toy detector: 5 prescan columns on the left, 1 serial overscan
// column on the right, 2 parallel overscan rows at the bottom
func testGeometry() *Geometry {
	return &Geometry{
		FrameRows: 6,
		FrameCols: 10,
		Geom: map[string]Region{
			"image"            : {Rows: 2, Cols: 4, R0C0: [2]int32{2, 5}},
			"prescan"          : {Rows: 6, Cols: 5, R0C0: [2]int32{0, 0}},
			"prescan_reliable" : {Rows: 6, Cols: 3, R0C0: [2]int32{0, 1}},
			"parallel_overscan": {Rows: 2, Cols: 4, R0C0: [2]int32{4, 5}},
			"serial_overscan"  : {Rows: 6, Cols: 1, R0C0: [2]int32{0, 9}},
		},
	}
}

func fullFrame(g *Geometry) *frame.Frame {
	f:=frame.NewFrameFromNaxisn([]int32{g.FrameCols, g.FrameRows}, nil, nil, nil)
	for i:=range f.Data { f.Data[i]=float32(i) }
	return f
}

func TestSliceSection(t *testing.T) {
	g:=testGeometry()
	f:=fullFrame(g)
	s, err:=g.SliceSection(f, "image")
	if err!=nil { t.Fatalf("slice: %s", err.Error()) }
	if s.Naxisn[0]!=4 || s.Naxisn[1]!=2 { t.Fatalf("dims %s; want 4x2", s.DimensionsToString()) }
	if s.Data[0]!=25 { t.Errorf("data[0]=%g; want 25", s.Data[0]) }   // row 2, col 5
	if s.Data[4]!=35 { t.Errorf("data[4]=%g; want 35", s.Data[4]) }   // row 3, col 5
}

func TestSliceSectionErrors(t *testing.T) {
	g:=testGeometry()
	f:=fullFrame(g)
	if _, err:=g.SliceSection(f, "no_such_region"); err==nil {
		t.Errorf("expected error for unknown section")
	}

	g.Geom["bad"]=Region{Rows: 8, Cols: 4, R0C0: [2]int32{2, 5}}
	if _, err:=g.SliceSection(f, "bad"); err==nil || err.Error()!="Corners invalid" {
		t.Errorf("expected corners error, got %v", err)
	}

	small:=frame.NewFrameFromNaxisn([]int32{4, 4}, nil, nil, nil)
	if _, err:=g.SliceSection(small, "image"); err==nil {
		t.Errorf("expected error for mismatched frame dimensions")
	}
}

func TestImagingArea(t *testing.T) {
	r, err:=testGeometry().ImagingArea()
	if err!=nil { t.Fatalf("imaging area: %s", err.Error()) }
	if r.Rows!=4 || r.Cols!=4 || r.R0C0!=[2]int32{0, 5} {
		t.Errorf("imaging area %+v; want 4x4 at [0 5]", r)
	}

	r, err=SCI.ImagingArea()
	if err!=nil { t.Fatalf("imaging area: %s", err.Error()) }
	if r.Rows!=1037 || r.Cols!=1056 || r.R0C0!=[2]int32{0, 1088} {
		t.Errorf("SCI imaging area %+v; want 1037x1056 at [0 1088]", r)
	}
}

func TestSubtractBias(t *testing.T) {
	g:=testGeometry()
	f:=frame.NewFrameFromNaxisn([]int32{g.FrameCols, g.FrameRows}, nil, nil, nil)
	for y:=int32(0); y<g.FrameRows; y++ {
		bias:=float32(100+y)
		for x:=int32(0); x<g.FrameCols; x++ { f.Data[y*g.FrameCols+x]=bias }
		f.Data[y*g.FrameCols+6]+=7 // signal in the image area
	}

	residual, err:=g.SubtractBias(f)
	if err!=nil { t.Fatalf("bias: %s", err.Error()) }
	for i,r:=range residual {
		if r!=0 { t.Fatalf("residual[%d]=%g; want 0", i, r) }
	}
	for y:=int32(0); y<g.FrameRows; y++ {
		if v:=f.Data[y*g.FrameCols+0]; v!=0 { t.Errorf("row %d col 0: %g; want 0", y, v) }
		if v:=f.Data[y*g.FrameCols+6]; v!=7 { t.Errorf("row %d col 6: %g; want 7", y, v) }
	}
}

func TestEstimateReadNoise(t *testing.T) {
	rng:=rand.New(rand.NewSource(42))
	residual:=make([]float32, 20000)
	for i:=range residual { residual[i]=float32(rng.NormFloat64()*50) }

	sigma, err:=EstimateReadNoise(residual)
	if err!=nil { t.Fatalf("read noise: %s", err.Error()) }
	if sigma<35 || sigma>65 {
		t.Errorf("sigma=%g; want within 30%% of 50", sigma)
	}

	if _, err:=EstimateReadNoise(nil); err==nil { t.Errorf("expected error for empty input") }
}

const testYAML=`
frame_rows: 6
frame_cols: 10
geom:
  image:
    rows: 2
    cols: 4
    r0c0: [2, 5]
  prescan:
    rows: 6
    cols: 5
    r0c0: [0, 0]
`

func TestLoadGeometry(t *testing.T) {
	g, err:=LoadGeometry(strings.NewReader(testYAML))
	if err!=nil { t.Fatalf("load: %s", err.Error()) }
	if g.FrameRows!=6 || g.FrameCols!=10 { t.Errorf("frame %dx%d; want 6x10", g.FrameRows, g.FrameCols) }
	r, err:=g.Section("image")
	if err!=nil { t.Fatalf("section: %s", err.Error()) }
	if r.Rows!=2 || r.Cols!=4 || r.R0C0!=[2]int32{2, 5} { t.Errorf("image region %+v", r) }

	if _, err:=LoadGeometry(strings.NewReader("frame_rows: 0")); err==nil {
		t.Errorf("expected error for incomplete geometry")
	}
}
