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
	"testing"
)

func testFrame(id int, illum IllumType) *Frame {
	f:=NewFrameFromNaxisn([]int32{4, 4}, nil, nil, nil)
	f.ID=id
	f.Meta=Meta{ExpTime: 1, CmdGain: 5000, KGain: 7, ReadNoise: 100, Illum: illum}
	return f
}

func TestNewFrameFromNaxisn(t *testing.T) {
	f:=NewFrameFromNaxisn([]int32{8, 4}, nil, nil, nil)
	if f.Pixels!=32 { t.Errorf("pixels=%d; want 32", f.Pixels) }
	if len(f.Data)!=32 || len(f.Err)!=32 || len(f.DQ)!=32 {
		t.Errorf("array lengths %d %d %d; want 32", len(f.Data), len(f.Err), len(f.DQ))
	}
}

func TestCopyIsDeep(t *testing.T) {
	f:=testFrame(0, IllumIlluminated)
	f.Data[3]=42
	c:=f.Copy()
	c.Data[3]=7
	c.DQ[3]=1
	if f.Data[3]!=42 { t.Errorf("copy mutated original data") }
	if f.DQ[3]!=0 { t.Errorf("copy mutated original dq") }
}

func TestResolveGain(t *testing.T) {
	m:=Meta{CmdGain: 5000, MeasGain: 4900, AppGain: 4950}
	if g:=m.ResolveGain(DefaultGainOrder); g!=4900 { t.Errorf("gain=%g; want measured 4900", g) }
	m.MeasGain=0
	if g:=m.ResolveGain(DefaultGainOrder); g!=4950 { t.Errorf("gain=%g; want applied 4950", g) }
	m.AppGain=0
	if g:=m.ResolveGain(DefaultGainOrder); g!=5000 { t.Errorf("gain=%g; want commanded 5000", g) }
	if g:=m.ResolveGain([]GainSource{GainMeasured}); g!=5000 { t.Errorf("gain=%g; want commanded fallback 5000", g) }
}

func TestNewStackErrors(t *testing.T) {
	if _, err:=NewStack(nil); err==nil { t.Errorf("expected error for empty stack") }

	f0:=testFrame(0, IllumIlluminated)
	f1:=NewFrameFromNaxisn([]int32{8, 8}, nil, nil, nil)
	if _, err:=NewStack([]*Frame{f0, f1}); err==nil { t.Errorf("expected error for dimension mismatch") }
}

func TestCheckUniform(t *testing.T) {
	f0:=testFrame(0, IllumIlluminated)
	f1:=testFrame(1, IllumDark)
	s, err:=NewStack([]*Frame{f0, f1})
	if err!=nil { t.Fatalf("stack: %s", err.Error()) }
	if err:=s.CheckUniform(); err!=nil { t.Errorf("uniform stack rejected: %s", err.Error()) }

	f1.Meta.ExpTime=2
	if err:=s.CheckUniform(); err==nil ||
	   err.Error()!="All frames must have the same exposure time, commanded EM gain, and k gain" {
		t.Errorf("expected uniformity error, got %v", err)
	}
	f1.Meta.ExpTime=1
	f1.Meta.KGain=8
	if err:=s.CheckUniform(); err==nil { t.Errorf("expected uniformity error for k gain") }
	f1.Meta.KGain=7
	f1.Meta.ReadNoise=90
	if err:=s.CheckUniform(); err==nil { t.Errorf("expected uniformity error for read noise") }
}

func TestPartition(t *testing.T) {
	ill, dark, err:=Partition([]*Frame{
		testFrame(0, IllumIlluminated), testFrame(1, IllumDark), testFrame(2, IllumIlluminated),
	})
	if err!=nil { t.Fatalf("partition: %s", err.Error()) }
	if len(ill.Frames)!=2 || len(dark.Frames)!=1 {
		t.Errorf("partition %d/%d; want 2/1", len(ill.Frames), len(dark.Frames))
	}

	_, _, err=Partition([]*Frame{testFrame(0, IllumIlluminated)})
	if err==nil || err.Error()!="There should only be 2 stacks, one illuminated and one dark" {
		t.Errorf("expected partition error, got %v", err)
	}
	_, _, err=Partition([]*Frame{testFrame(0, IllumDark)})
	if err==nil { t.Errorf("expected partition error for missing illuminated stack") }
}

func TestMeanData(t *testing.T) {
	f0:=testFrame(0, IllumIlluminated)
	f1:=testFrame(1, IllumDark)
	for i:=range f0.Data { f0.Data[i]=2 }
	for i:=range f1.Data { f1.Data[i]=4 }
	s, _:=NewStack([]*Frame{f0, f1})
	if m:=s.MeanData(); m!=3 { t.Errorf("mean=%g; want 3", m) }
}
