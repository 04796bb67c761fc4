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


package stats

import (
	"math"
	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i:=range bins { bins[i]=0 }
	scale:=float32(len(bins)-1)/(max-min)
	for _,d:=range data {
		index:=(d-min)*scale
		if index<0 || int(index)>=len(bins) { continue }
		bins[int(index)]++
	}
}

// Returns the location and the value of the histogram peak
func HistogramPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue:=0, int32(math.MinInt32)
	for i,v:=range bins {
		if v>maxValue { maxIndex, maxValue=i, v }
	}
	x=min+(float32(maxIndex)+0.5)*(max-min)/float32(len(bins)-1)
	y=float32(bins[maxIndex])
	return x, y
}

// FitGaussianPeak fits a scaled normal distribution to the given histogram
// and returns its center and width. Used to estimate the bias level and read
// noise of a detector from the histogram of a signal-free region, where the
// peak is the read-noise Gaussian around the bias. Minimizes the RMS distance
// between the histogram and the model with Nelder-Mead, starting from the
// histogram peak
func FitGaussianPeak(bins []int32, min, max float32) (center, sigma float32, err error) {
	peak, peakVal:=HistogramPeak(bins, min, max)
	binWidth:=(max-min)/float32(len(bins)-1)

	x0:=[]float64{float64(peakVal), float64(peak), float64(5*binWidth)}
	problem:=optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sig:=float32(x[0]), float32(x[1]), float32(x[2])
			sumSqDiff:=float32(0)
			for i,y:=range bins {
				xc:=min+(float32(i)+0.5)*(max-min)/float32(len(bins)-1)
				xmusig:=(xc-mu)/sig
				yPredict:=alpha*float32(math.Exp(float64(-0.5*xmusig*xmusig)))
				diff:=float32(y)-yPredict
				sumSqDiff+=diff*diff
			}
			return math.Sqrt(float64(sumSqDiff/float32(len(bins))))
		},
	}
	result, err:=optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err!=nil { return -1, -1, err }
	sigma=float32(math.Abs(result.X[2]))
	return float32(result.X[1]), sigma, nil
}
