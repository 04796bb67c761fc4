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


// Package stats provides basic and robust statistics on pixel arrays
package stats

import (
	"fmt"
	"math"
	"github.com/valyala/fastrand"
)

// Number of samples for the subsampled robust estimators
const defaultNumSamples=16384

// Basic statistics on a pixel data array
type Stats struct {
	min      float32
	mean     float32
	max      float32
	stdDev   float32
	location float32  // robust location: sampled median
	scale    float32  // robust scale: sampled MAD, normalized to sigma
}

func (s *Stats) Min()      float32 { return s.min }
func (s *Stats) Mean()     float32 { return s.mean }
func (s *Stats) Max()      float32 { return s.max }
func (s *Stats) StdDev()   float32 { return s.stdDev }
func (s *Stats) Location() float32 { return s.location }
func (s *Stats) Scale()    float32 { return s.scale }

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.min, s.max, s.mean, s.stdDev, s.location, s.scale)
}

// Calculates basic and robust statistics for the given data array
func NewStats(data []float32) *Stats {
	s:=&Stats{}
	s.min, s.mean, s.max=minMeanMax(data)
	s.stdDev=float32(math.Sqrt(variance(data, s.mean)))

	numSamples:=defaultNumSamples
	if numSamples>len(data) { numSamples=len(data) }
	samples:=make([]float32, numSamples)
	s.location=FastApproxMedian(data, samples)
	s.scale=FastApproxMAD(data, s.location, samples)
	return s
}

func minMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax:=data[0], float64(0), data[0]
	for _,v:=range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
		mmean+=float64(v)
	}
	return mmin, float32(mmean/float64(len(data))), mmax
}

func variance(data []float32, mean float32) float64 {
	v:=float64(0)
	for _,d:=range data {
		diff:=float64(d-mean)
		v+=diff*diff
	}
	return v/float64(len(data))
}

// Mean and standard deviation of the given values
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean:=float32(0)
	for _,x:=range(xs) { xmean+=x }
	xmean/=float32(len(xs))
	xvar:=float32(0)
	for _,x:=range(xs) { diff:=x-xmean; xvar+=diff*diff }
	xvar/=float32(len(xs))
	return xmean, float32(math.Sqrt(float64(xvar)))
}

// Calculates fast approximate median of the (presumably large) data by
// subsampling the given number of values and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		samples[i]=data[rng.Uint32n(max)]
	}
	return QSelectMedian(samples)
}

// Calculates fast approximate median of absolute differences of the data by
// subsampling the given number of values and taking the MAD of that.
// Uses provided samples array as scratchpad
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		samples[i]=float32(math.Abs(float64(data[rng.Uint32n(max)]-location)))
	}
	return QSelectMedian(samples)*1.4826  // normalize to Gaussian std dev
}

// Returns the median of the data via quickselect. Reorders the data
func QSelectMedian(data []float32) float32 {
	return qselect(data, len(data)>>1)
}

// Returns the k-th smallest element via Hoare partitioning. Reorders the data
func qselect(data []float32, k int) float32 {
	left, right:=0, len(data)-1
	for left<right {
		pivot:=data[(left+right)>>1]
		i, j:=left, right
		for i<=j {
			for data[i]<pivot { i++ }
			for data[j]>pivot { j-- }
			if i<=j {
				data[i], data[j]=data[j], data[i]
				i++
				j--
			}
		}
		if k<=j {
			right=j
		} else if k>=i {
			left=i
		} else {
			break
		}
	}
	return data[k]
}
