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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/log"
	"github.com/mfeld/emcount/internal/ops/count"
	"github.com/mfeld/emcount/internal/render"
	"github.com/mfeld/emcount/internal/rest"
	"github.com/mfeld/emcount/internal/sim"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out       = flag.String("out", "out.jpg", "save rate map preview to `file`, .jpg or .tif")
var logF      = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var tFactor   = flag.Float64("tFactor", 5, "photon counting threshold as multiple of the read noise")
var nIter     = flag.Int("nIter", 2, "Newton-Raphson iterations for coincidence loss correction")

var chroot    = flag.String("chroot", "", "serve: restrict filesystem access to `directory` (requires root)")
var setuid    = flag.Int("setuid", -1, "serve: switch to this numeric user id after opening the port, -1=no change")

var falseCol  = flag.Bool("falseColor", false, "render preview in false color instead of grayscale")
var gamma     = flag.Float64("gamma", 1, "apply output gamma, 1: keep linear light data")

var simWidth  = flag.Int("simWidth", 64, "simulation: frame width in pixels")
var simHeight = flag.Int("simHeight", 64, "simulation: frame height in pixels")
var simFlux   = flag.Float64("simFlux", 0.5, "simulation: mean photo-electrons per pixel per frame")
var simDark   = flag.Float64("simDark", 0.01, "simulation: mean dark electrons per pixel per frame")
var simGain   = flag.Float64("simGain", 5000, "simulation: commanded EM gain")
var simRN     = flag.Float64("simRN", 100, "simulation: read noise sigma in e-")
var simExp    = flag.Float64("simExp", 1, "simulation: exposure time in seconds")
var simNumIll = flag.Int("simNumIll", 50, "simulation: number of illuminated frames")
var simNumDark= flag.Int("simNumDark", 50, "simulation: number of dark frames")
var simSeed   = flag.Uint64("simSeed", 0, "simulation: random seed, 0 for a fixed default")

func main() {
	logWriter:=log.Writer()
	start:=time.Now()
	flag.Usage=func(){
	    fmt.Fprintf(logWriter, `Emcount Copyright (c) 2024 Marek Feld
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (count|simulate|serve|legal|version) (job0.json ... jobn.json)

Commands:
  count    Photon-count the frames in the given JSON job files
  simulate Simulate an exposure series and photon-count it
  serve    Serve the processing REST API on port 8080
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *logF=="%auto" {
		if *out!="" {
			*logF=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		} else {
			*logF=""
		}
	}
	if *logF!="" {
		err:=log.AlsoToFile(*logF)
		if err!=nil { log.Fatalf("Unable to open logfile '%s'\n", *logF) }
	}
	defer log.Sync()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	switch args[0] {
	case "count":
		if len(args)<2 {
			log.Fatalf("count: need at least one JSON job file\n")
		}
		for _,fileName:=range args[1:] {
			cmdCount(fileName)
		}

	case "simulate":
		cmdSimulate()

	case "serve":
		rest.MakeSandbox(*chroot, *setuid)
		rest.Serve()

	case "legal":
		log.Println(legal)

	case "version":
		log.Printf("Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		log.Printf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(-1)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatalf("Could not create memory profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatalf("Could not write memory profile: %s\n", err.Error())
		}
	}

	log.Printf("Done after %v\n", time.Since(start))
}

// Photon-counts the exposure series described by one JSON job file and
// renders the resulting rate map preview
func cmdCount(fileName string) {
	logWriter:=log.Writer()
	bs, err:=os.ReadFile(fileName)
	if err!=nil { log.Fatalf("%s: %s\n", fileName, err.Error()) }

	var job rest.CountArgs
	if err:=json.Unmarshal(bs, &job); err!=nil {
		log.Fatalf("%s: %s\n", fileName, err.Error())
	}
	if job.PhotonCount==nil {
		job.PhotonCount=count.NewOpPhotonCount(float32(*tFactor), *nIter)
	}

	fs:=make([]*frame.Frame, len(job.Frames))
	for i:=range job.Frames {
		f, err:=job.Frames[i].ToFrame(i)
		if err!=nil { log.Fatalf("%s: %s\n", fileName, err.Error()) }
		fs[i]=f
	}
	log.Printf("%s: %d frames\n", fileName, len(fs))

	res:=rest.RunCount(logWriter, fs, job.PhotonCount)
	if res==nil { os.Exit(-1) }
	writePreview(res)
}

// Simulates an exposure series from the -sim* flags, photon-counts it and
// renders the resulting rate map preview
func cmdSimulate() {
	logWriter:=log.Writer()
	params:=sim.Params{
		Width: int32(*simWidth), Height: int32(*simHeight),
		Flux: float32(*simFlux), DarkRate: float32(*simDark),
		ExpTime: float32(*simExp), EMGain: float32(*simGain), ReadNoise: float32(*simRN),
		NumIll: *simNumIll, NumDark: *simNumDark, Seed: *simSeed,
	}
	s, err:=sim.NewSimulator(params)
	if err!=nil { log.Fatalf("simulate: %s\n", err.Error()) }

	fs:=s.Simulate()
	log.Printf("Simulated %d frames of %dx%d pixels, flux %g e-/pix/frame\n",
	           len(fs), params.Width, params.Height, params.Flux)

	op:=count.NewOpPhotonCount(float32(*tFactor), *nIter)
	res:=rest.RunCount(logWriter, fs, op)
	if res==nil { os.Exit(-1) }
	log.Printf("True mean rate %.4f e-/pix/frame\n", params.Flux)
	writePreview(res)
}

func writePreview(res *frame.Frame) {
	if *out=="" { return }
	if err:=render.WriteToFile(*out, res, float32(*gamma), *falseCol); err!=nil {
		log.Fatalf("%s: %s\n", *out, err.Error())
	}
	log.Printf("Saved rate map preview to %s\n", *out)
}

const legal=`Emcount is Copyright (c) 2024 Marek Feld, and licensed under GPL v3.

It uses the following fantastic pieces of open source software:
- gin web framework, (c) 2014 Manuel Martinez-Almeida, MIT license
- go-colorful, (c) 2013 Lucas Beyer, MIT license
- pbnjay/memory, (c) 2017 PBnJay, BSD-3-Clause license
- valyala/fastrand, (c) 2017 Aliaksandr Valialkin, MIT license
- gonum, (c) 2013 The Gonum Authors, BSD-3-Clause license
- go-yaml, (c) 2011-2019 Canonical Ltd, Apache 2.0 license
- golang.org/x/image and golang.org/x/exp, (c) The Go Authors, BSD-3-Clause license`
