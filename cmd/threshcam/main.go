package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"threshcam/internal/config"
	"threshcam/internal/processing/threshold"
)

const (
	AppName    = "threshcam"
	AppID      = "io.threshcam.viewer"
	AppVersion = "1.0.0"
)

func main() {
	configureRuntime()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	application, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("Application initialization failed: %v", err)
	}

	if err := application.Run(); err != nil {
		application.logger.Error("Main", err, nil)
		os.Exit(1)
	}
}

// configureRuntime tunes the GC for a steady stream of frame-sized allocations
func configureRuntime() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	runtime.SetGCPercent(200)
}

// loadConfig reads the optional YAML file, then applies only the flags
// that were set on the command line.
func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)

	path := fs.String("config", "", "YAML configuration file")
	source := fs.String("source", "", "frame source: camera, files, synthetic or zmq")
	device := fs.String("device", "", "camera index or video path")
	pattern := fs.String("pattern", "", "image glob for the files source")
	endpoint := fs.String("endpoint", "", "ZeroMQ endpoint for the zmq source")
	sinks := fs.String("sink", "", "comma separated sinks: window, snapshots, stream, discard")
	block := fs.Int("block", 0, "threshold block size (odd, >= 3)")
	offset := fs.Float64("offset", 0, "constant subtracted from the local mean")
	direction := fs.String("direction", "", "binary or binary_inv")
	backend := fs.String("backend", "", "threshold backend: native or opencv")
	latest := fs.Bool("latest", false, "process only the newest frame, dropping stale ones")
	overlay := fs.Bool("overlay", true, "draw the frame counter and compute time")
	addr := fs.String("addr", "", "listen address for the stream sink")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logJSON := fs.Bool("log-json", false, "emit JSON log lines")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Type = strings.ToLower(*source)
		case "device":
			cfg.Source.Camera.Device = *device
		case "pattern":
			cfg.Source.Files.Pattern = *pattern
		case "endpoint":
			cfg.Source.ZMQ.Endpoint = *endpoint
		case "sink":
			cfg.SetSinks(*sinks)
		case "block":
			cfg.Filter.BlockSize = *block
		case "offset":
			cfg.Filter.Offset = *offset
		case "direction":
			d, err := threshold.ParseDirection(*direction)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Filter.Direction = d
		case "backend":
			cfg.Filter.Backend = strings.ToLower(*backend)
		case "latest":
			cfg.Pipeline.Latest = *latest
		case "overlay":
			cfg.Overlay = *overlay
		case "addr":
			cfg.Stream.Addr = *addr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-json":
			cfg.Log.JSON = *logJSON
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
