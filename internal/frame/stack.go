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
	"errors"
	"fmt"
)

// An ordered collection of frames sharing one exposure configuration
type Stack struct {
	Frames []*Frame
}

// Creates a stack from the given frames. Fails on an empty input,
// or if the frames do not share identical dimensions
func NewStack(frames []*Frame) (*Stack, error) {
	if len(frames)==0 { return nil, errors.New("stack must have at least one frame") }
	naxisn:=frames[0].Naxisn
	for _,f:=range frames {
		if !EqualInt32Slice(f.Naxisn, naxisn) {
			return nil, fmt.Errorf("frame %d: dimensions %s differ from first frame %s",
			                       f.ID, f.DimensionsToString(), frames[0].DimensionsToString())
		}
	}
	return &Stack{Frames: frames}, nil
}

// Checks that all frames share exposure time, commanded EM gain, k gain
// and read noise. A violation is a fatal configuration error
func (s *Stack) CheckUniform() error {
	m:=s.Frames[0].Meta
	for _,f:=range s.Frames[1:] {
		if f.Meta.ExpTime!=m.ExpTime || f.Meta.CmdGain!=m.CmdGain ||
		   f.Meta.KGain!=m.KGain || f.Meta.ReadNoise!=m.ReadNoise {
			return errors.New("All frames must have the same exposure time, commanded EM gain, and k gain")
		}
	}
	return nil
}

// Mean of all data values across all frames of the stack
func (s *Stack) MeanData() float32 {
	sum, n:=float64(0), 0
	for _,f:=range s.Frames {
		for _,d:=range f.Data { sum+=float64(d) }
		n+=len(f.Data)
	}
	if n==0 { return 0 }
	return float32(sum/float64(n))
}

// Partition a combined collection of frames into exactly one illuminated and
// one dark stack, keyed on the illumination type metadata field. Fails with a
// fatal configuration error if the partition does not yield exactly two groups
func Partition(frames []*Frame) (ill, dark *Stack, err error) {
	var illFrames, darkFrames []*Frame
	for _,f:=range frames {
		if f.Meta.Illum==IllumDark {
			darkFrames=append(darkFrames, f)
		} else {
			illFrames=append(illFrames, f)
		}
	}
	if len(illFrames)==0 || len(darkFrames)==0 {
		return nil, nil, errors.New("There should only be 2 stacks, one illuminated and one dark")
	}
	if ill, err=NewStack(illFrames);  err!=nil { return nil, nil, err }
	if dark,err=NewStack(darkFrames); err!=nil { return nil, nil, err }
	return ill, dark, nil
}
