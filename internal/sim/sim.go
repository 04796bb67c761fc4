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


// Package sim generates synthetic EMCCD frames with the noise processes of a
// real photon-counting detector: Poisson photon arrivals, stochastic electron
// multiplication and Gaussian read noise. Useful for end-to-end validation of
// the counting pipeline against a known input rate
package sim

import (
	"errors"
	"fmt"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"github.com/mfeld/emcount/internal/frame"
)

// Physical parameters of a simulated exposure series
type Params struct {
	Width         int32   `json:"width"`   // frame dimensions in pixels
	Height        int32   `json:"height"`
	Flux          float32 `json:"flux"`    // mean photo-electrons per pixel per frame, illuminated area
	DarkRate      float32 `json:"darkRate"`// mean dark electrons per pixel per frame
	ExpTime       float32 `json:"expTime"` // exposure time in seconds
	EMGain        float32 `json:"emGain"`  // commanded EM gain
	ReadNoise     float32 `json:"readNoise"` // read noise sigma in e-
	NumIll        int     `json:"numIll"`  // number of illuminated frames
	NumDark       int     `json:"numDark"` // number of dark frames
	Seed          uint64  `json:"seed"`    // random seed, 0 for a fixed default
}

func NewParamsDefault() Params {
	return Params{
		Width: 64, Height: 64,
		Flux: 0.5, DarkRate: 0.01,
		ExpTime: 1, EMGain: 5000, ReadNoise: 100,
		NumIll: 50, NumDark: 50,
	}
}

func (p *Params) validate() error {
	if p.Width<=0 || p.Height<=0 { return errors.New("frame dimensions must be positive") }
	if p.EMGain<=0              { return errors.New("EM gain must be positive") }
	if p.ReadNoise<0            { return errors.New("read noise must be nonnegative") }
	if p.Flux<0 || p.DarkRate<0 { return errors.New("arrival rates must be nonnegative") }
	if p.NumIll<1 || p.NumDark<1 { return errors.New("need at least one illuminated and one dark frame") }
	return nil
}

// A seeded source of the detector noise processes
type Simulator struct {
	params Params
	src    rand.Source
	normal distuv.Normal
}

func NewSimulator(p Params) (*Simulator, error) {
	if err:=p.validate(); err!=nil { return nil, err }
	seed:=p.Seed
	if seed==0 { seed=0x1e9e1 }
	src:=rand.NewSource(seed)
	return &Simulator{
		params: p,
		src:    src,
		normal: distuv.Normal{Mu: 0, Sigma: float64(p.ReadNoise), Src: src},
	}, nil
}

// Simulate generates the full exposure series, illuminated frames first,
// then dark frames. Frame IDs count up from zero
func (s *Simulator) Simulate() []*frame.Frame {
	p:=s.params
	res:=make([]*frame.Frame, 0, p.NumIll+p.NumDark)
	id:=0
	for i:=0; i<p.NumIll; i++ {
		f:=s.simulateFrame(id, float64(p.Flux+p.DarkRate), frame.IllumIlluminated)
		res=append(res, f)
		id++
	}
	for i:=0; i<p.NumDark; i++ {
		f:=s.simulateFrame(id, float64(p.DarkRate), frame.IllumDark)
		res=append(res, f)
		id++
	}
	return res
}

// Draws one frame: per pixel, Poisson(lambda) electrons are multiplied by the
// EM register, modeled as Gamma(n, g) for n input electrons, and Gaussian read
// noise is added on top
func (s *Simulator) simulateFrame(id int, lambda float64, illum frame.IllumType) *frame.Frame {
	p:=s.params
	f:=frame.NewFrameFromNaxisn([]int32{p.Width, p.Height}, nil, nil, nil)
	f.ID=id
	f.Meta=frame.Meta{
		ExpTime:   p.ExpTime,
		CmdGain:   p.EMGain,
		KGain:     1,
		ReadNoise: p.ReadNoise,
		Illum:     illum,
	}

	poisson:=distuv.Poisson{Lambda: lambda, Src: s.src}
	g:=float64(p.EMGain)
	for i:=range f.Data {
		v:=0.0
		if n:=poisson.Rand(); n>=1 {
			gamma:=distuv.Gamma{Alpha: n, Beta: 1/g, Src: s.src}
			v=gamma.Rand()
		}
		if p.ReadNoise>0 { v+=s.normal.Rand() }
		f.Data[i]=float32(v)
	}
	f.AddHistory(fmt.Sprintf("Simulated %s frame: lambda=%g e-/pix/frame, em_gain=%g, read noise=%g e-",
	                         illum.String(), lambda, p.EMGain, p.ReadNoise))
	return f
}
