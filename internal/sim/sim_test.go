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


package sim

import (
	"testing"
	"github.com/mfeld/emcount/internal/frame"
)

func TestSimulateStructure(t *testing.T) {
	p:=NewParamsDefault()
	p.NumIll, p.NumDark=5, 3
	s, err:=NewSimulator(p)
	if err!=nil { t.Fatalf("simulator: %s", err.Error()) }

	fs:=s.Simulate()
	if len(fs)!=8 { t.Fatalf("frames=%d; want 8", len(fs)) }
	for i,f:=range fs {
		if f.ID!=i { t.Errorf("frame %d: id=%d", i, f.ID) }
		if f.Naxisn[0]!=p.Width || f.Naxisn[1]!=p.Height {
			t.Errorf("frame %d: dims %s", i, f.DimensionsToString())
		}
		wantIllum:=frame.IllumIlluminated
		if i>=5 { wantIllum=frame.IllumDark }
		if f.Meta.Illum!=wantIllum { t.Errorf("frame %d: illum %s", i, f.Meta.Illum) }
		if f.Meta.CmdGain!=p.EMGain || f.Meta.ReadNoise!=p.ReadNoise {
			t.Errorf("frame %d: meta %+v", i, f.Meta)
		}
		if len(f.History)==0 { t.Errorf("frame %d: missing history", i) }
	}
}

// Same seed must reproduce the identical exposure series
func TestSimulateDeterministic(t *testing.T) {
	p:=NewParamsDefault()
	p.NumIll, p.NumDark=2, 2
	p.Seed=99
	s1, _:=NewSimulator(p)
	s2, _:=NewSimulator(p)
	fs1, fs2:=s1.Simulate(), s2.Simulate()
	for i:=range fs1 {
		for j:=range fs1[i].Data {
			if fs1[i].Data[j]!=fs2[i].Data[j] {
				t.Fatalf("frame %d pixel %d: %g != %g", i, j, fs1[i].Data[j], fs2[i].Data[j])
			}
		}
	}
}

// Illuminated frames must cross the photon-counting threshold far more often
// than dark frames
func TestSimulatePhotonSignal(t *testing.T) {
	p:=NewParamsDefault()
	p.Flux=0.5
	p.NumIll, p.NumDark=10, 10
	s, _:=NewSimulator(p)
	fs:=s.Simulate()

	thresh:=5*p.ReadNoise
	var nIll, nDark, cIll, cDark int
	for _,f:=range fs {
		for _,d:=range f.Data {
			if f.Meta.Illum==frame.IllumIlluminated {
				nIll++
				if d>thresh { cIll++ }
			} else {
				nDark++
				if d>thresh { cDark++ }
			}
		}
	}
	fracIll :=float64(cIll)/float64(nIll)
	fracDark:=float64(cDark)/float64(nDark)
	if fracIll<0.1 || fracIll>0.6 {
		t.Errorf("illuminated threshold crossings %g; want near 0.35", fracIll)
	}
	if fracDark>0.05 { t.Errorf("dark threshold crossings %g; want below 0.05", fracDark) }
	if fracIll<10*fracDark { t.Errorf("poor contrast: ill %g vs dark %g", fracIll, fracDark) }
}

func TestSimulatorValidation(t *testing.T) {
	p:=NewParamsDefault()
	p.EMGain=0
	if _, err:=NewSimulator(p); err==nil { t.Errorf("expected error for zero gain") }

	p=NewParamsDefault()
	p.Width=0
	if _, err:=NewSimulator(p); err==nil { t.Errorf("expected error for zero width") }

	p=NewParamsDefault()
	p.NumDark=0
	if _, err:=NewSimulator(p); err==nil { t.Errorf("expected error for missing dark frames") }
}
