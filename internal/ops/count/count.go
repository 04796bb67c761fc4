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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
	"github.com/mfeld/emcount/internal/pc"
)

// Photon-counts a combined set of illuminated and dark frames of the same
// exposure configuration, and produces the dark-subtracted mean expected
// photoelectron rate per pixel with propagated uncertainties.
// Takes n input promises, produces one output promise
type OpPhotonCount struct {
	ops.OpBase
	TFactor     float32             `json:"tFactor"`    // threshold multiplier on read noise
	NIter       int                 `json:"nIter"`      // Newton-Raphson iterations
	GainOrder   []frame.GainSource  `json:"gainOrder"`  // EM gain resolution priority
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpPhotonCountDefault() })} // register the operator for JSON decoding

func NewOpPhotonCountDefault() *OpPhotonCount { return NewOpPhotonCount(5, 2) }

func NewOpPhotonCount(tFactor float32, nIter int) *OpPhotonCount {
	return &OpPhotonCount{
		OpBase    : ops.OpBase{Type: "photonCount", Active: true},
		TFactor   : tFactor,
		NIter     : nIter,
		GainOrder : frame.DefaultGainOrder,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpPhotonCount) UnmarshalJSON(data []byte) error {
	type defaults OpPhotonCount
	def:=defaults( *NewOpPhotonCountDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpPhotonCount(def)
	return nil
}

func (op *OpPhotonCount) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator needs inputs", op.Type) }

	out:=func() (f *frame.Frame, err error) {
		fs, err:=ops.MaterializeAll(ins, c.MaxThreads) // materialize all input promises
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []ops.Promise{out}, nil
}

// Per-stack intermediate results
type stackResult struct {
	mean []float64  // corrected rate map lambda
	err  []float64  // combined per-pixel uncertainty
	dq   []int32    // 1 where no valid frame covers the pixel
}

// Apply photon counting to a combined set of illuminated and dark frames.
// Checks exposure configuration uniformity before any array computation
func (op *OpPhotonCount) Apply(fs []*frame.Frame, c *ops.Context) (result *frame.Frame, err error) {
	all, err:=frame.NewStack(fs)
	if err!=nil { return nil, err }
	if err=all.CheckUniform(); err!=nil { return nil, err }
	if op.NIter<1 { return nil, errors.New("niter must be an integer greater than 0") }

	ill, dark, err:=frame.Partition(fs)
	if err!=nil { return nil, err }
	fmt.Fprintf(c.Log, "Photon counting %d illuminated and %d dark frames with T_factor %g and %d Newton iterations:\n",
	            len(ill.Frames), len(dark.Frames), op.TFactor, op.NIter)

	var results [2]*stackResult
	for i, s:=range []*frame.Stack{ill, dark} {
		results[i], err=op.countStack(s, c)
		if err!=nil { return nil, err }
	}

	// Subtract the dark rate map and clip negatives to zero: a net photon
	// rate cannot be negative. Combine errors in quadrature and quality
	// flags with logical OR
	first:=ill.Frames[0]
	res:=frame.NewFrameFromFrame(first)
	for i:=range res.Data {
		m:=results[0].mean[i] - results[1].mean[i]
		if m<0 { m=0 }
		res.Data[i]=float32(m)
		res.Err[i]=float32(math.Sqrt(results[0].err[i]*results[0].err[i] + results[1].err[i]*results[1].err[i]))
		res.DQ[i]=results[0].dq[i] | results[1].dq[i]
	}
	res.AddHistory(fmt.Sprintf("Photon-counted %d frames using T_factor=%g and niter=%d",
	                           len(fs), op.TFactor, op.NIter))
	return res, nil
}

// Runs the five-step per-stack pipeline: threshold derivation and advisory
// checks, digitization of the nominal and +/- 1-sigma bracket variants,
// masked co-addition, coincidence-loss correction, and uncertainty
// combination
func (op *OpPhotonCount) countStack(s *frame.Stack, c *ops.Context) (*stackResult, error) {
	meta:=&s.Frames[0].Meta
	readNoise:=meta.ReadNoise
	thresh:=op.TFactor*readNoise
	if thresh<0 { return nil, errors.New("thresh must be nonnegative") }

	gainOrder:=op.GainOrder
	if len(gainOrder)==0 { gainOrder=frame.DefaultGainOrder }
	gain:=meta.ResolveGain(gainOrder)

	// Advisory checks: poor but not undefined configurations. Logged, never fatal
	if thresh>=gain {
		fmt.Fprintf(c.Log, "warning: thresh should be less than em_gain for effective photon counting\n")
	}
	if s.MeanData()>0.1 {
		fmt.Fprintf(c.Log, "warning: average # of photons/pixel is > 0.1. Decrease frame time to get lower average # of photons/pixel\n")
	}
	if readNoise<=0 {
		fmt.Fprintf(c.Log, "warning: read noise should be greater than 0 for effective photon counting\n")
	}
	if thresh<4*readNoise {
		fmt.Fprintf(c.Log, "warning: thresh should be at least 4 or 5 times read_noise for accurate photon counting\n")
	}
	fmt.Fprintf(c.Log, "%s stack: %d frames, threshold %.6g, gain %.6g\n",
	            meta.Illum, len(s.Frames), thresh, gain)

	pixels:=int(s.Frames[0].Pixels)
	nobs    :=make([]float64, pixels)
	nobsUp  :=make([]float64, pixels)
	nobsLow :=make([]float64, pixels)
	nfr     :=make([]float64, pixels)
	shifted :=make([]float32, pixels)  // scratch, the input frames are never mutated

	for _,f:=range s.Frames {
		bin, err:=pc.Digitize(f.Data, thresh)
		if err!=nil { return nil, err }

		// bracket variants at counts +/- 1 sigma, to capture the
		// correction's sensitivity to the input uncertainties
		for i,d:=range f.Data { shifted[i]=d+f.Err[i] }
		binUp, err:=pc.Digitize(shifted, thresh)
		if err!=nil { return nil, err }
		for i,d:=range f.Data { shifted[i]=d-f.Err[i] }
		binLow, err:=pc.Digitize(shifted, thresh)
		if err!=nil { return nil, err }

		// masked co-addition: flagged pixels do not contribute to the sum
		// nor to the per-pixel valid frame count
		for i,dq:=range f.DQ {
			if dq!=0 { continue }
			nfr[i]++
			nobs[i]   +=float64(bin[i])
			nobsUp[i] +=float64(binUp[i])
			nobsLow[i]+=float64(binLow[i])
		}
	}

	t, g:=float64(thresh), float64(gain)
	mean, err:=corrBatched(nobs, nfr, t, g, op.NIter, c.MaxThreads)
	if err!=nil { return nil, err }
	meanUp, err:=corrBatched(nobsUp, nfr, t, g, op.NIter, c.MaxThreads)
	if err!=nil { return nil, err }
	meanLow, err:=corrBatched(nobsLow, nfr, t, g, op.NIter, c.MaxThreads)
	if err!=nil { return nil, err }

	variance:=pc.VarianceL23(g, mean, t, nfr)

	// Empirical uncertainty bracket, not a derived variance: shift the
	// re-solved +/- 1-sigma maps outward by the photon-counting variance
	// and take the larger per-pixel distance from the nominal solution
	res:=&stackResult{
		mean: mean,
		err:  make([]float64, pixels),
		dq:   make([]int32, pixels),
	}
	for i:=range res.err {
		up :=meanUp[i]  + variance[i] - mean[i]
		low:=mean[i] - (meanLow[i] - variance[i])
		if up>low {
			res.err[i]=up
		} else {
			res.err[i]=low
		}
		if nfr[i]==0 { res.dq[i]=1 }
	}
	return res, nil
}

// Runs the coincidence-loss solver across pixel batches in parallel. Every
// pixel's Newton iteration is independent, so batches need no cross-pixel
// synchronization. Limits parallelism to the number of available cores
func corrBatched(nobs, nfr []float64, t, g float64, niter, maxThreads int) ([]float64, error) {
	if maxThreads<1 { maxThreads=runtime.NumCPU() }
	res:=make([]float64, len(nobs))

	// split into work packages no smaller than 16k pixels
	numBatches:=maxThreads*4
	batchSize:=(len(nobs)+numBatches-1)/numBatches
	if batchSize<16384 { batchSize=16384 }

	sem :=make(chan bool, maxThreads)
	errs:=make(chan error, numBatches+1)
	numLaunched:=0
	for lower:=0; lower<len(nobs); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(nobs) { upper=len(nobs) }

		sem <- true
		numLaunched++
		go func(lower, upper int) {
			defer func() { <-sem }()
			lam, err:=pc.CorrPhotonCount(nobs[lower:upper], nfr[lower:upper], t, g, niter)
			if err!=nil {
				errs <- err
				return
			}
			copy(res[lower:upper], lam)
			errs <- nil
		}(lower, upper)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
	var err error
	for i:=0; i<numLaunched; i++ {  // collect errors
		if e:=<-errs; e!=nil && err==nil { err=e }
	}
	if err!=nil { return nil, err }
	return res, nil
}
