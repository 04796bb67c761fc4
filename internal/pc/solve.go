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


package pc

import (
	"errors"
	"math"
)

// CorrPhotonCount recovers the mean expected electron count lambda per pixel
// from the co-added binary-digitized counts nobs, the per-pixel valid frame
// counts nfr, the photon counting threshold t and the EM gain g. A closed-form
// approximation provides the starting point, refined with niter Newton-Raphson
// iterations. Pixels with nfr==0, or with a zero starting point, are excluded
// from iteration and come back as exactly 0. Fails if any pixel converges to a
// negative rate, which signals an exposure time too long for the chosen
// gain/threshold configuration.
func CorrPhotonCount(nobs, nfr []float64, t, g float64, niter int) ([]float64, error) {
	if len(nobs)==0 { return nil, errors.New("array must have length > 0") }
	if len(nobs)!=len(nfr) { return nil, errors.New("nobs and nfr must have identical shape") }
	if niter<1 { return nil, errors.New("niter must be an integer greater than 0") }

	lam0:=calcLamApprox(nobs, nfr, t, g)
	return lamNewtonFit(nobs, nfr, t, g, lam0, niter)
}

// Approximate lambda for the Newton starting point. Uses the first-order
// approximation -ln(1 - (nobs/nfr) e^(t/g)) where its argument is positive,
// and falls back to the zeroth-order estimate nobs/nfr where a statistical
// fluctuation pushes the argument to or below zero. Pixels without valid
// frames yield 0.
func calcLamApprox(nobs, nfr []float64, t, g float64) []float64 {
	expTG:=math.Exp(t/g)
	lam:=make([]float64, len(nobs))
	for i,no:=range nobs {
		if nfr[i]==0 { continue }
		init:=1 - no/nfr[i]*expTG
		if init>0 {
			lam[i]=-math.Log(init)
		} else {
			lam[i]=no/nfr[i]
		}
	}
	return lam
}

// Newton-Raphson refinement of the lambda estimate. Pixels where the starting
// point or nobs is zero are skipped to avoid dividing by zero during the
// update, and filled with exactly 0 in the result.
func lamNewtonFit(nobs, nfr []float64, t, g float64, lam0 []float64, niter int) ([]float64, error) {
	lam:=make([]float64, len(lam0))
	for i,l:=range lam0 {
		if l==0 || nobs[i]==0 || nfr[i]==0 { continue }  // stays exactly 0
		for iter:=0; iter<niter; iter++ {
			l-=calcFunc(nobs[i], nfr[i], t, g, l) / calcDFunc(nfr[i], t, g, l)
		}
		if l<0 {
			return nil, errors.New("negative number of photon counts; try decreasing the frametime")
		}
		lam[i]=l
	}
	return lam, nil
}

// Objective function for the Newton fit: expected thresholded-count rate
// under the EM-gain coincidence-loss model, scaled by nfr, minus the
// observed count nobs. Zero when the model matches the observation.
func calcFunc(nobs, nfr, t, g, lam float64) float64 {
	epsilonPrime:=(lam*(2*g*g*(6 + lam*(3 + lam)) + 2*g*lam*(3 + lam)*t +
		lam*lam*t*t)) / (2*math.Exp(t/g)*g*g*(6 + lam*(6 + lam*(3 + lam))))
	return nfr*epsilonPrime - nobs
}

// Closed-form derivative of the objective function with respect to lambda
func calcDFunc(nfr, t, g, lam float64) float64 {
	eTG:=math.Exp(t/g)
	d:=6 + lam*(6 + lam*(3 + lam))
	return (lam*nfr*(2*g*g*(3 + 2*lam) + 2*g*lam*t + 2*g*(3 + lam)*t +
		2*lam*t*t))/(2*eTG*g*g*d) - (lam*(6 +
		lam*(3 + lam) + lam*(3 + 2*lam))*nfr*
		(2*g*g*(6 + lam*(3 + lam)) + 2*g*lam*(3 + lam)*t + lam*lam*t*t))/(2*eTG*g*g*d*d) +
		(nfr*(2*g*g*(6 + lam*(3 + lam)) + 2*g*lam*(3 + lam)*t +
		lam*lam*t*t))/(2*eTG*g*g*d)
}
