/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gocurve/InputParameters"
	"github.com/notargets/gocurve/metrics"
	"github.com/notargets/gocurve/scheduler"
	"github.com/notargets/gocurve/types"
)

type Advect struct {
	ICFile      string
	OutputFile  string
	ProfileDir  string
	MetricsAddr string
	WithPoints  bool
}

const exampleFile = `
########################################
Title: "Rotating channel"
Ranks: 4
StepsPerRound: 200
Solver:
  Method: DoPri5 # or RKF45, RK23
  AbsTol: 1.e-6
  RelTol: 1.e-6
  DtMax: 0.05
Termination:
  Policy: Streamline # or Pathline, Displacement
  MaxSteps: 2000
  MaxDistance: 10.
Domain:
  Kind: Grid # or Tet, Analytic
  Min: [-1, -1, 0]
  Max: [1, 1, 1]
  Cells: [16, 16, 2]
  Splits: [2, 2, 1]
  Ghost: 1
  Velocity:
    Kind: Rotation # or Uniform, ABC
    Omega: 1.
SeedLines:
  - Start: [0.1, 0, 0.5]
    End: [0.9, 0, 0.5]
    Count: 8
########################################
`

// AdvectCmd represents the advect command
var AdvectCmd = &cobra.Command{
	Use:   "advect",
	Short: "Advect integral curves through a decomposed analytic field",
	Long: `Samples an analytic velocity onto a decomposed grid or tetrahedral mesh,
advects every seed to termination and prints a summary of the merged curves`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a := &Advect{}
		if a.ICFile, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		a.OutputFile, _ = cmd.Flags().GetString("output")
		a.ProfileDir, _ = cmd.Flags().GetString("profile")
		a.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		a.WithPoints, _ = cmd.Flags().GetBool("points")
		var ip *InputParameters.AdvectionParameters
		if ip, err = processInput(a, cmd.OutOrStdout()); err != nil {
			return
		}
		if r := viper.GetInt("ranks"); r > 0 {
			ip.Ranks = r
		}
		ip.Print(cmd.OutOrStdout())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return RunAdvect(ctx, a, ip, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func processInput(a *Advect, w io.Writer) (ip *InputParameters.AdvectionParameters, err error) {
	if len(a.ICFile) == 0 {
		fmt.Fprintf(w, "Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile) in YAML format")
	}
	var (
		data []byte
		file string
	)
	if file, err = homedir.Expand(a.ICFile); err != nil {
		return
	}
	if data, err = os.ReadFile(file); err != nil {
		return
	}
	ip = &InputParameters.AdvectionParameters{}
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return
}

func init() {
	rootCmd.AddCommand(AdvectCmd)
	AdvectCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- Domain\n\t- Seeds\n\t- Termination")
	AdvectCmd.Flags().StringP("output", "o", "", "write the merged curves to this YAML file")
	AdvectCmd.Flags().BoolP("points", "p", false, "include every step in the output file")
	AdvectCmd.Flags().IntP("ranks", "r", 0, "number of ranks, overrides the input file")
	AdvectCmd.Flags().String("profile", "", "write a CPU profile into this directory")
	AdvectCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address while running")
	_ = viper.BindPFlag("ranks", AdvectCmd.Flags().Lookup("ranks"))
}

func RunAdvect(ctx context.Context, a *Advect, ip *InputParameters.AdvectionParameters, out, logOut io.Writer) (err error) {
	if len(a.ProfileDir) != 0 {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(a.ProfileDir), profile.Quiet).Stop()
	}
	logger, err := newLogger(logOut)
	if err != nil {
		return
	}
	cfg, prob, seeds, err := newRun(ip, logger)
	if err != nil {
		return
	}
	cfg.Metrics = metrics.New()
	if len(a.MetricsAddr) != 0 {
		srv := &http.Server{
			Addr:    a.MetricsAddr,
			Handler: promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", a.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	start := time.Now()
	res, err := scheduler.Run(ctx, cfg, prob, seeds)
	if err != nil {
		return
	}
	PrintSummary(out, res, time.Since(start))
	if len(a.OutputFile) != 0 {
		err = writeCurves(a.OutputFile, res, a.WithPoints)
	}
	return
}

func PrintSummary(w io.Writer, res scheduler.Result, elapsed time.Duration) {
	fmt.Fprintf(w, "%d curves, %d failures in %d rounds, %v\n",
		len(res.Curves), len(res.Failures), res.Stats.Rounds, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "[%d]\t\t= Steps\n", res.Stats.Steps)
	fmt.Fprintf(w, "[%d]\t\t= Handoffs\n", res.Stats.Handoffs)
	fmt.Fprintf(w, "[%d]\t\t= Fragments\n", res.Stats.Fragments)
	if res.Stats.Overflows > 0 {
		fmt.Fprintf(w, "[%d]\t\t= Overflows\n", res.Stats.Overflows)
	}
	states := make([]types.TerminationState, 0, len(res.Stats.States))
	for s := range res.Stats.States {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, s := range states {
		fmt.Fprintf(w, "%s = %d\n", s, res.Stats.States[s])
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "seed %d failed: %v\n", f.ID, f.Err)
	}
}

type curveOutput struct {
	ID          int          `json:"ID"`
	State       string       `json:"State"`
	Diagnostics string       `json:"Diagnostics,omitempty"`
	Steps       int          `json:"Steps"`
	ArcLength   float64      `json:"ArcLength"`
	Distance    float64      `json:"Distance"`
	Time        float64      `json:"Time"`
	Position    [3]float64   `json:"Position"`
	Points      [][4]float64 `json:"Points,omitempty"` // t, x, y, z
}

type runOutput struct {
	Curves   []curveOutput  `json:"Curves"`
	Failures map[int]string `json:"Failures,omitempty"`
}

func newRunOutput(res scheduler.Result, withPoints bool) (ro runOutput) {
	for _, c := range res.Curves {
		co := curveOutput{
			ID:        c.ID,
			State:     c.State.String(),
			Steps:     c.NumSteps,
			ArcLength: c.ArcLength,
			Distance:  c.Distance,
			Time:      c.Time,
			Position:  [3]float64{c.Position.X, c.Position.Y, c.Position.Z},
		}
		if c.Diagnostics != 0 {
			co.Diagnostics = c.Diagnostics.String()
		}
		if withPoints {
			for _, s := range c.Steps {
				co.Points = append(co.Points, [4]float64{s.Time, s.Position.X, s.Position.Y, s.Position.Z})
			}
		}
		ro.Curves = append(ro.Curves, co)
	}
	if len(res.Failures) != 0 {
		ro.Failures = make(map[int]string)
		for _, f := range res.Failures {
			ro.Failures[f.ID] = f.Err.Error()
		}
	}
	return
}

func writeCurves(name string, res scheduler.Result, withPoints bool) (err error) {
	var (
		data []byte
		file string
	)
	if file, err = homedir.Expand(name); err != nil {
		return
	}
	if data, err = yaml.Marshal(newRunOutput(res, withPoints)); err != nil {
		return
	}
	return os.WriteFile(file, data, 0644)
}
