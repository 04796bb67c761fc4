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
	"math"
)

// VarianceL23 computes the expected variance of the corrected lambda estimate
// under photon-counting, thresholding and coincidence-loss-correction
// statistics, for EM gain g, corrected rate map lam, threshold t and valid
// frame counts nfr. The thresholding-crossing probability eThresh follows
// from an analytic expansion in lambda; its binomial standard deviation is
// propagated through the series expansion of the correction, which amplifies
// statistical noise nonlinearly as lambda or t/g grows.
// See https://doi.org/10.1117/1.JATIS.9.4.048006 for the derivation.
// Pixels without valid frames yield 0; they carry a quality flag instead.
func VarianceL23(g float64, lam []float64, t float64, nfr []float64) []float64 {
	eTG:=math.Exp(t/g)
	res:=make([]float64, len(lam))
	for i,l:=range lam {
		n:=nfr[i]
		if n==0 { continue }

		constant:=6/(6 + l*(6 + l*(3 + l)))
		eThresh:=constant*(l*(2*g*g*(6 + l*(3 + l)) +
			2*g*l*(3 + l)*t + l*l*t*t))/(12*g*g*eTG)
		variance:=n*eThresh*(1-eThresh)

		ne:=n*eThresh
		amp:=eTG/n +
			2*(eTG*eTG*(g - t)/(2*g*n*n))*ne +
			3*(eTG*eTG*eTG*(4*g*g - 8*g*t + 5*t*t)/(12*g*g*n*n*n))*ne*ne
		res[i]=variance*amp*amp
	}
	return res
}
