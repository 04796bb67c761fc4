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


// Package render exports photon rate maps as preview images: grayscale JPEG
// for quick inspection, false-color JPEG for structure in faint signal, and
// 16-bit TIFF for lossless archival
package render

import (
	"bufio"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
	"github.com/mfeld/emcount/internal/frame"
)

// normalize maps a pixel value to [0,1] with the given black and white points
// and gamma. NaNs map to zero, else image encoders break
func normalize(v, min, scale float32, gammaInv float64) float32 {
	v=(v-min)*scale
	if math.IsNaN(float64(v)) || v<0 { v=0 }
	if v>1 { v=1 }
	if gammaInv!=1.0 { v=float32(math.Pow(float64(v), gammaInv)) }
	return v
}

func checkMono(f *frame.Frame, min, max float32) error {
	if len(f.Naxisn)!=2 { return errors.New("can only render two-dimensional frames") }
	if !(min<max)       { return errors.New("black point must be below white point") }
	return nil
}

// Write a rate map to grayscale JPG, using the given min, max and gamma.
func WriteMonoJPG(writer io.Writer, f *frame.Frame, min, max, gamma float32, quality int) error {
	if err:=checkMono(f, min, max); err!=nil { return err }
	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	img:=image.NewGray(image.Rectangle{image.Point{0,0}, image.Point{width, height}})
	scale:=1.0/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			gray:=normalize(f.Data[yoffset+x], min, scale, gammaInv)
			img.SetGray(x, y, color.Gray{uint8(gray*255)})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a rate map to false-color JPG, using the given min, max and gamma.
// Intensity is mapped onto a perceptually uniform blue-to-yellow ramp in HCL
// space, so equal rate differences read as equal color differences
func WriteFalseColorJPG(writer io.Writer, f *frame.Frame, min, max, gamma float32, quality int) error {
	if err:=checkMono(f, min, max); err!=nil { return err }
	cold,_:=colorful.Hex("#163aab")
	warm,_:=colorful.Hex("#f2e24c")

	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	img:=image.NewRGBA(image.Rectangle{image.Point{0,0}, image.Point{width, height}})
	scale:=1.0/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			v:=normalize(f.Data[yoffset+x], min, scale, gammaInv)
			c:=cold.BlendHcl(warm, float64(v)).Clamped()
			r,g,b:=c.RGB255()
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a rate map to 16-bit grayscale TIFF, using the given min, max and gamma.
func WriteMonoTIFF16(writer io.Writer, f *frame.Frame, min, max, gamma float32) error {
	if err:=checkMono(f, min, max); err!=nil { return err }
	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	img:=image.NewGray16(image.Rectangle{image.Point{0,0}, image.Point{width, height}})
	scale:=1/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			gray:=normalize(f.Data[yoffset+x], min, scale, gammaInv)
			img.SetGray16(x, y, color.Gray16{uint16(gray*65535)})
		}
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// WriteToFile renders a rate map to the named file, choosing the format by
// extension: .jpg/.jpeg grayscale, .tif/.tiff 16-bit, anything else an error.
// Black and white points default to the frame's own min and max
func WriteToFile(fileName string, f *frame.Frame, gamma float32, falseColor bool) error {
	min, max:=minMax(f.Data)
	if !(min<max) { max=min+1 }

	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()
	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	switch lower:=strings.ToLower(fileName); {
	case strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg"):
		if falseColor { return WriteFalseColorJPG(writer, f, min, max, gamma, 95) }
		return WriteMonoJPG(writer, f, min, max, gamma, 95)
	case strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff"):
		return WriteMonoTIFF16(writer, f, min, max, gamma)
	}
	return errors.New("unknown image extension, expected .jpg or .tif")
}

func minMax(data []float32) (min, max float32) {
	min, max=float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _,v:=range data {
		if math.IsNaN(float64(v)) { continue }
		if v<min { min=v }
		if v>max { max=v }
	}
	return min, max
}
