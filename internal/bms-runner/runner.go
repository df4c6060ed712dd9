/*
tc2-bms-controller - Battery management estimation and control
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package runner reads sample frames, steps each device's BMS cycle and
// publishes the results as metrics, DBus state and events.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/config"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/metrics"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/TheCacophonyProject/tc2-bms-controller/serialhelper"
	arg "github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")

	exitFn           = os.Exit
	stdout io.Writer = os.Stdout
)

type Args struct {
	ConfigDir      string `arg:"-c,--config-dir" help:"Directory holding bms.toml"`
	Input          string `arg:"--input" help:"Read frames from this file instead of the serial port, - for stdin"`
	SerialPort     string `arg:"--serial-port" help:"Serial port to read frames from, overrides the config"`
	Baud           int    `arg:"--baud" help:"Serial baud rate, overrides the config"`
	MetricsAddress string `arg:"--metrics-address" help:"Serve prometheus metrics on this address, e.g. :2112"`
	NoDBus         bool   `arg:"--no-dbus" help:"Don't start the DBus service"`
	NoEvents       bool   `arg:"--no-events" help:"Don't report events"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

type ReplayArgs struct {
	Input     string `arg:"positional" help:"File of frames to replay, - for stdin"`
	ConfigDir string `arg:"-c,--config-dir" help:"Directory holding bms.toml"`
	Summary   bool   `arg:"--summary" help:"Only print the last cycle of each device"`
	logging.LogArgs
}

func (ReplayArgs) Version() string {
	return version
}

var defaultArgs = Args{
	ConfigDir: goconfig.DefaultConfigDir,
}

var defaultReplayArgs = ReplayArgs{
	Input:     "-",
	ConfigDir: goconfig.DefaultConfigDir,
}

func parseArgs(dest interface{}, input []string) error {
	parser, err := arg.NewParser(arg.Config{}, dest)
	if err != nil {
		return err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		exitFn(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		exitFn(0)
	}
	return err
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs
	err := parseArgs(&args, input)
	return args, err
}

func procReplayArgs(input []string) (ReplayArgs, error) {
	args := defaultReplayArgs
	err := parseArgs(&args, input)
	return args, err
}

// applyArgs lets command line flags override the runner config.
func applyArgs(rc *config.RunnerConfig, args Args) {
	if args.SerialPort != "" {
		rc.SerialPort = args.SerialPort
	}
	if args.Baud > 0 {
		rc.Baud = args.Baud
	}
	if args.MetricsAddress != "" {
		rc.MetricsAddress = args.MetricsAddress
	}
	if args.NoDBus {
		rc.DBus = false
	}
	if args.NoEvents {
		rc.Events = false
	}
}

// Run is the long running service: frames come from the serial port (or
// --input) until the input ends or the process is signalled.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	serialhelper.SetLogger(log)
	log.Printf("Running version: %s", version)

	conf, err := config.Parse(args.ConfigDir)
	if err != nil {
		return err
	}
	applyArgs(&conf.Runner, args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		err := config.Watch(ctx, conf, args.ConfigDir, log, func(string) {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			exitFn(0)
		})
		if err != nil {
			log.Error("Not watching config for changes: ", err)
		}
	}()

	fleet, err := bms.NewFleet(conf.Device(), log)
	if err != nil {
		return err
	}

	m := metrics.New()
	if conf.Runner.MetricsAddress != "" {
		go func() {
			if err := serveMetrics(ctx, conf.Runner.MetricsAddress, m); err != nil {
				log.Error("Metrics server stopped: ", err)
			}
		}()
	}

	var signals signaler = noSignals{}
	if conf.Runner.DBus {
		s, err := startService(fleet)
		if err != nil {
			return fmt.Errorf("failed to start DBus service: %w", err)
		}
		signals = s
	}

	var reporter eventReporter = noEvents{}
	if conf.Runner.Events {
		reporter = eventClient{}
	}

	in, err := openInput(ctx, args.Input, conf.Runner)
	if err != nil {
		return err
	}
	defer in.Close()
	go func() {
		// Unblock a pending read on shutdown.
		<-ctx.Done()
		in.Close()
	}()

	l := &loop{
		fleet:           fleet,
		metrics:         m,
		events:          newEvents(reporter, conf.Runner.EventInterval),
		signals:         signals,
		requireChecksum: conf.Runner.RequireChecksum,
	}
	err = l.run(ctx, in)
	log.Infof("Stopped after %d frames", l.frames)
	return err
}

// replayCycle is one line of replay output.
type replayCycle struct {
	Device    string                         `json:"device"`
	Timestamp time.Time                      `json:"timestamp"`
	Result    measurement.OptimizationResult `json:"result"`
	Verdict   measurement.SafetyVerdict      `json:"verdict"`
	Error     string                         `json:"error,omitempty"`
}

func newReplayCycle(device string, c bms.Cycle) replayCycle {
	r := replayCycle{
		Device:    device,
		Timestamp: c.Raw.Timestamp,
		Result:    c.Result,
		Verdict:   c.Verdict,
	}
	if c.Err != nil {
		r.Error = c.Err.Error()
	}
	return r
}

// Replay steps every frame of a recorded input and prints the cycles as JSON
// lines. Nothing is published.
func Replay(inputArgs []string, ver string) error {
	version = ver
	args, err := procReplayArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	conf, err := config.Parse(args.ConfigDir)
	if err != nil {
		return err
	}
	fleet, err := bms.NewFleet(conf.Device(), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openInput(ctx, args.Input, conf.Runner)
	if err != nil {
		return err
	}
	defer in.Close()

	enc := json.NewEncoder(stdout)
	l := &loop{
		fleet:           fleet,
		events:          newEvents(noEvents{}, conf.Runner.EventInterval),
		signals:         noSignals{},
		requireChecksum: conf.Runner.RequireChecksum,
	}
	if !args.Summary {
		l.onCycle = func(f Frame, c bms.Cycle) error {
			return enc.Encode(newReplayCycle(f.Device, c))
		}
	}
	if err := l.run(ctx, in); err != nil {
		return err
	}
	if args.Summary {
		for _, id := range fleet.Devices() {
			c, _ := fleet.Snapshot(id)
			if err := enc.Encode(newReplayCycle(id, c)); err != nil {
				return err
			}
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, address string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("Serving metrics on %s/metrics", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
