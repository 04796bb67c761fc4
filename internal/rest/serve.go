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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"

	"github.com/mfeld/emcount/internal/frame"
	"github.com/mfeld/emcount/internal/ops"
	"github.com/mfeld/emcount/internal/ops/count"
	"github.com/mfeld/emcount/internal/sim"
	"github.com/mfeld/emcount/internal/stats"
)


func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",     getPing)
			v1.POST("/count",    postCount)
			v1.POST("/simulate", postSimulate)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Wire format for one detector frame
type FrameArgs struct {
	Naxisn    []int32   `json:"naxisn"`
	Data      []float32 `json:"data"`
	Err       []float32 `json:"err,omitempty"`
	DQ        []int32   `json:"dq,omitempty"`
	ExpTime   float32   `json:"expTime"`
	CmdGain   float32   `json:"cmdGain"`
	MeasGain  float32   `json:"measGain,omitempty"`
	AppGain   float32   `json:"appGain,omitempty"`
	KGain     float32   `json:"kGain"`
	ReadNoise float32   `json:"readNoise"`
	Illum     string    `json:"illum"` // "illuminated" or "dark"
}

func (fa *FrameArgs) ToFrame(id int) (*frame.Frame, error) {
	expected:=int32(1)
	for _,n:=range fa.Naxisn { expected*=n }
	if len(fa.Naxisn)==0 || int(expected)!=len(fa.Data) {
		return nil, fmt.Errorf("frame %d: naxisn %v does not match %d data values", id, fa.Naxisn, len(fa.Data))
	}
	illum:=frame.IllumDark
	if fa.Illum=="illuminated" {
		illum=frame.IllumIlluminated
	} else if fa.Illum!="dark" {
		return nil, fmt.Errorf("frame %d: illum must be 'illuminated' or 'dark', not '%s'", id, fa.Illum)
	}
	f:=frame.NewFrameFromNaxisn(fa.Naxisn, fa.Data, fa.Err, fa.DQ)
	f.ID=id
	f.Meta=frame.Meta{
		ExpTime: fa.ExpTime, CmdGain: fa.CmdGain, MeasGain: fa.MeasGain, AppGain: fa.AppGain,
		KGain: fa.KGain, ReadNoise: fa.ReadNoise, Illum: illum,
	}
	return f, nil
}

type CountArgs struct {
	Frames      []FrameArgs          `json:"frames"`
	PhotonCount *count.OpPhotonCount `json:"photonCount"`
}

// Runs the photon-counting operator on the posted illuminated and dark
// frames, streaming processing logs as plain text
func postCount(c *gin.Context)  {
	logWriter := c.Writer
	var args CountArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.PhotonCount==nil { args.PhotonCount=count.NewOpPhotonCountDefault() }

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Operator:\n", "\n", args.PhotonCount); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	fs:=make([]*frame.Frame, len(args.Frames))
	for i:=range args.Frames {
		f, err:=args.Frames[i].ToFrame(i)
		if err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			return
		}
		fs[i]=f
	}

	RunCount(logWriter, fs, args.PhotonCount)
	logWriter.(http.Flusher).Flush()
}

type postSimulateArgs struct {
	Sim         *sim.Params          `json:"sim"`
	PhotonCount *count.OpPhotonCount `json:"photonCount"`
}

// Simulates an exposure series and runs the photon-counting operator on it,
// streaming processing logs as plain text. Ends with a comparison of the
// recovered rate against the simulated truth
func postSimulate(c *gin.Context) {
	logWriter := c.Writer
	var args postSimulateArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	params:=sim.NewParamsDefault()
	if args.Sim!=nil { params=*args.Sim }
	if args.PhotonCount==nil { args.PhotonCount=count.NewOpPhotonCountDefault() }

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	s, err:=sim.NewSimulator(params)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fs:=s.Simulate()
	fmt.Fprintf(logWriter, "Simulated %d frames of %dx%d pixels, flux %g e-/pix/frame\n",
	            len(fs), params.Width, params.Height, params.Flux)

	if res:=RunCount(logWriter, fs, args.PhotonCount); res!=nil {
		fmt.Fprintf(logWriter, "True mean rate %.4f, recovered %s\n",
		            params.Flux, stats.NewStats(res.Data))
	}
	logWriter.(http.Flusher).Flush()
}

// RunCount executes the photon-counting operator on an exposure series and
// logs the resulting rate map statistics
func RunCount(logWriter io.Writer, fs []*frame.Frame, op *count.OpPhotonCount) *frame.Frame {
	c:=ops.NewContext(logWriter)
	outs, err:=op.MakePromises(ops.PromiseFrames(fs), c)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return nil
	}
	res, err:=outs[0]()
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return nil
	}
	fmt.Fprintf(logWriter, "Photon-counted rate map %s: %s\n", res.DimensionsToString(), stats.NewStats(res.Data))
	return res
}
