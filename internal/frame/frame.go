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


package frame

import (
	"fmt"
	"strings"
)

// Illumination type of a frame, as commanded for the observation
type IllumType int
const (
	IllumIlluminated IllumType = iota
	IllumDark
)

func (it IllumType) String() string {
	if it==IllumDark { return "dark" }
	return "illuminated"
}

// Sources for resolving the effective EM gain of a frame, in priority order
type GainSource int
const (
	GainMeasured GainSource = iota  // gain measured directly from the frame
	GainApplied                     // gain applied by the camera electronics
	GainCommanded                   // gain commanded for the exposure
)

// Default resolution order: prefer measured, then applied, then commanded
var DefaultGainOrder=[]GainSource{GainMeasured, GainApplied, GainCommanded}

// Exposure metadata for a detector frame. Gains are multiplicative EM gains
// in e-/photoelectron; MeasGain and AppGain are optional and zero if absent.
type Meta struct {
	ExpTime   float32    // exposure time in seconds
	CmdGain   float32    // commanded EM gain
	MeasGain  float32    // measured EM gain, 0 if not available
	AppGain   float32    // applied EM gain, 0 if not available
	KGain     float32    // conversion gain identity in e-/DN
	ReadNoise float32    // read noise in e-
	Illum     IllumType  // dark or illuminated
}

// Resolve the effective EM gain following the given source priority order.
// Falls back to the commanded gain if no listed source is available.
func (m *Meta) ResolveGain(order []GainSource) float32 {
	for _,src:=range order {
		switch src {
		case GainMeasured:
			if m.MeasGain>0 { return m.MeasGain }
		case GainApplied:
			if m.AppGain>0 { return m.AppGain }
		case GainCommanded:
			if m.CmdGain>0 { return m.CmdGain }
		}
	}
	return m.CmdGain
}

// A detector frame in electrons: per-pixel counts, co-located 1-sigma
// uncertainties and integer quality flags (0=good, nonzero=excluded).
// All three arrays share the shape given by Naxisn.
type Frame struct {
	ID       int         // Sequential ID number, for log output
	Naxisn   []int32     // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels   int32       // Number of pixels in the frame. Product of Naxisn[]

	Data     []float32   // Per-pixel counts
	Err      []float32   // Per-pixel 1-sigma uncertainties
	DQ       []int32     // Per-pixel quality flags

	Meta     Meta        // Exposure metadata
	History  []string    // Processing history entries
}

// Creates a frame of the given dimensions. Data, err and dq are not copied,
// and allocated if nil. naxisn is deep copied
func NewFrameFromNaxisn(naxisn []int32, data, err []float32, dq []int32) *Frame {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil { data=make([]float32, numPixels) }
	if err ==nil { err =make([]float32, numPixels) }
	if dq  ==nil { dq  =make([]int32,   numPixels) }
	return &Frame{
		ID:     0,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
		Err:    err,
		DQ:     dq,
	}
}

// Creates a frame with the shape and metadata of the given frame.
// New data, err and dq arrays are allocated
func NewFrameFromFrame(f *Frame) *Frame {
	res:=NewFrameFromNaxisn(f.Naxisn, nil, nil, nil)
	res.ID=f.ID
	res.Meta=f.Meta
	res.History=append([]string(nil), f.History...)
	return res
}

// Returns a deep copy of the frame, sharing no array storage with the original
func (f *Frame) Copy() *Frame {
	res:=NewFrameFromFrame(f)
	copy(res.Data, f.Data)
	copy(res.Err,  f.Err)
	copy(res.DQ,   f.DQ)
	return res
}

// Appends a processing history entry to the frame
func (f *Frame) AddHistory(msg string) {
	f.History=append(f.History, msg)
}

func (f *Frame) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a)!=len(b) { return false }
	for i,v:=range a {
		if v!=b[i] { return false }
	}
	return true
}
