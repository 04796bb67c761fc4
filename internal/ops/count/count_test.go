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


package count

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
	"github.com/mfeld/emcount/internal/sim"
)

// Builds a 2x2 exposure series of 10 illuminated and 10 dark frames.
// Pixel 0: photon signal above threshold in 4 of 10 illuminated frames.
// Pixel 1: never above threshold anywhere.
// Pixel 2: flagged bad in every frame.
// Pixel 3: signal in the dark stack only, so dark subtraction clips it
func testSeries() []*frame.Frame {
	fs:=make([]*frame.Frame, 0, 20)
	for i:=0; i<20; i++ {
		f:=frame.NewFrameFromNaxisn([]int32{2, 2}, nil, nil, nil)
		f.ID=i
		illum:=frame.IllumIlluminated
		if i>=10 { illum=frame.IllumDark }
		f.Meta=frame.Meta{ExpTime: 1, CmdGain: 5000, KGain: 7, ReadNoise: 100, Illum: illum}
		f.DQ[2]=1
		if i<4 { f.Data[0]=600 }          // illuminated frames 0..3
		if i>=10 && i<14 { f.Data[3]=600 } // dark frames 10..13
		fs=append(fs, f)
	}
	return fs
}

func apply(t *testing.T, fs []*frame.Frame, op *OpPhotonCount) (*frame.Frame, string, error) {
	t.Helper()
	buf:=&bytes.Buffer{}
	c:=ops.NewContext(buf)
	outs, err:=op.MakePromises(ops.PromiseFrames(fs), c)
	if err!=nil { return nil, buf.String(), err }
	res, err:=outs[0]()
	return res, buf.String(), err
}

func TestPhotonCountEndToEnd(t *testing.T) {
	res, log, err:=apply(t, testSeries(), NewOpPhotonCount(5, 2))
	if err!=nil { t.Fatalf("photon count: %s", err.Error()) }

	// solving nobs=4 of nfr=10 at thresh=500, gain=5000
	want:=float32(0.5668283264561088)
	if math.Abs(float64(res.Data[0]-want))>1e-5 {
		t.Errorf("data[0]=%g; want %g", res.Data[0], want)
	}
	if res.Data[1]!=0 { t.Errorf("data[1]=%g; want 0", res.Data[1]) }
	if res.Data[3]!=0 { t.Errorf("data[3]=%g; want 0 after dark clipping", res.Data[3]) }

	// pixel 2 has no valid frames in either stack
	if res.DQ[2]!=1 { t.Errorf("dq[2]=%d; want 1", res.DQ[2]) }
	if res.DQ[0]!=0 || res.DQ[1]!=0 || res.DQ[3]!=0 {
		t.Errorf("dq=%v; want 0 everywhere except pixel 2", res.DQ)
	}

	// with zero input uncertainties, the bracket collapses onto the
	// photon-counting variance of the respective stack
	wantVar:=0.07103112182914462
	if math.Abs(float64(res.Err[0])-wantVar)>1e-6 {
		t.Errorf("err[0]=%g; want %g", res.Err[0], wantVar)
	}
	if math.Abs(float64(res.Err[3])-wantVar)>1e-6 {
		t.Errorf("err[3]=%g; want %g from dark stack", res.Err[3], wantVar)
	}

	found:=false
	for _,h:=range res.History {
		if strings.Contains(h, "T_factor=5") && strings.Contains(h, "niter=2") { found=true }
	}
	if !found { t.Errorf("missing history entry, got %v", res.History) }

	if !strings.Contains(log, "average # of photons/pixel") {
		t.Errorf("expected high-flux advisory in log, got: %s", log)
	}
}

func TestPhotonCountUniformityFatal(t *testing.T) {
	fs:=testSeries()
	fs[7].Meta.ExpTime=2
	_, _, err:=apply(t, fs, NewOpPhotonCount(5, 2))
	if err==nil || err.Error()!="All frames must have the same exposure time, commanded EM gain, and k gain" {
		t.Errorf("expected uniformity error, got %v", err)
	}
}

func TestPhotonCountPartitionFatal(t *testing.T) {
	fs:=testSeries()[:10] // illuminated only
	_, _, err:=apply(t, fs, NewOpPhotonCount(5, 2))
	if err==nil || err.Error()!="There should only be 2 stacks, one illuminated and one dark" {
		t.Errorf("expected partition error, got %v", err)
	}
}

func TestPhotonCountBadConfig(t *testing.T) {
	_, _, err:=apply(t, testSeries(), NewOpPhotonCount(5, 0))
	if err==nil || err.Error()!="niter must be an integer greater than 0" {
		t.Errorf("expected niter error, got %v", err)
	}

	fs:=testSeries()
	for _,f:=range fs { f.Meta.ReadNoise=-100 }
	_, _, err=apply(t, fs, NewOpPhotonCount(5, 2))
	if err==nil || err.Error()!="thresh must be nonnegative" {
		t.Errorf("expected thresh error, got %v", err)
	}
}

func TestPhotonCountGainOrder(t *testing.T) {
	fs:=testSeries()
	for _,f:=range fs { f.Meta.MeasGain=5000 } // measured agrees with commanded
	op:=NewOpPhotonCount(5, 2)
	op.GainOrder=[]frame.GainSource{frame.GainMeasured}
	res, _, err:=apply(t, fs, op)
	if err!=nil { t.Fatalf("photon count: %s", err.Error()) }
	want:=float32(0.5668283264561088)
	if math.Abs(float64(res.Data[0]-want))>1e-5 {
		t.Errorf("data[0]=%g; want %g", res.Data[0], want)
	}
}

// Input uncertainties widen the output bracket: pushing some pixels across
// the threshold in the +1 sigma variant must grow the reported error
func TestPhotonCountBracketWidens(t *testing.T) {
	fs:=testSeries()
	resZero, _, err:=apply(t, fs, NewOpPhotonCount(5, 2))
	if err!=nil { t.Fatalf("photon count: %s", err.Error()) }

	fs=testSeries()
	for i:=4; i<7; i++ { // three more illuminated frames cross at +1 sigma
		fs[i].Data[0]=450
		fs[i].Err[0]=100
	}
	resErr, _, err:=apply(t, fs, NewOpPhotonCount(5, 2))
	if err!=nil { t.Fatalf("photon count: %s", err.Error()) }

	if resErr.Err[0]<=resZero.Err[0] {
		t.Errorf("bracket did not widen: %g <= %g", resErr.Err[0], resZero.Err[0])
	}
}

// Recovers known simulated arrival rates through the full chain of Poisson
// arrivals, EM multiplication, read noise, thresholding and coincidence-loss
// correction. Accurate recovery needs the low-flux regime: above ~0.1
// e-/pix/frame the truncated expectation model biases the correction high
func TestPhotonCountSimulatedRecovery(t *testing.T) {
	if testing.Short() { t.Skip("skipping simulation in short mode") }

	fluxes:=[]float32{0.03, 0.09}
	means :=make([]float64, len(fluxes))
	for i, flux:=range fluxes {
		p:=sim.NewParamsDefault()
		p.Width, p.Height=100, 100
		p.Flux, p.DarkRate=flux, 0.01
		s, err:=sim.NewSimulator(p)
		if err!=nil { t.Fatalf("simulator: %s", err.Error()) }

		res, _, err:=apply(t, s.Simulate(), NewOpPhotonCountDefault())
		if err!=nil { t.Fatalf("photon count: %s", err.Error()) }

		sum, bad:=0.0, 0
		for j:=range res.Data {
			sum+=float64(res.Data[j])
			if res.DQ[j]!=0 { bad++ }
		}
		means[i]=sum/float64(len(res.Data))
		if bad!=0 { t.Errorf("flux %g: %d pixels flagged; every pixel sees all frames", flux, bad) }
		if math.Abs(means[i]-float64(flux))>0.005 {
			t.Errorf("flux %g: recovered mean rate %.4f", flux, means[i])
		}
	}
	if means[0]>=means[1] {
		t.Errorf("recovered means %v do not increase with the simulated flux", means)
	}
}
