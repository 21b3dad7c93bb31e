package main

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"gocv.io/x/gocv"

	"threshcam/internal/capture"
	"threshcam/internal/config"
	"threshcam/internal/display"
	"threshcam/internal/frame"
	"threshcam/internal/logger"
	"threshcam/internal/pipeline"
	"threshcam/internal/processing/chain"
	"threshcam/internal/processing/filters"
	"threshcam/internal/processing/threshold"
	"threshcam/internal/shutdown"
)

type Application struct {
	cfg    *config.Config
	logger logger.Logger

	fyneApp fyne.App
	window  *display.Window
	stream  *display.Stream

	pool   *frame.Pool
	source pipeline.Source
	chain  *chain.ProcessingChain
	sinks  *display.Multi
	runner *pipeline.Runner

	shutdown *shutdown.Manager
	runDone  chan struct{}
	runErr   error
}

func NewApplication(cfg *config.Config) (*Application, error) {
	appLogger, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}

	application := &Application{
		cfg:      cfg,
		logger:   appLogger,
		pool:     frame.NewPool(cfg.Pipeline.PoolSize),
		shutdown: shutdown.NewManager(appLogger, cfg.ShutdownTimeout),
		runDone:  make(chan struct{}),
		sinks:    display.NewMulti(),
	}

	appLogger.Info("Application", "starting", map[string]interface{}{
		"version":    AppVersion,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
		"source":     cfg.Source.Type,
		"sinks":      cfg.Sinks,
		"backend":    cfg.Filter.Backend,
		"latest":     cfg.Pipeline.Latest,
	})

	ready, err := pipeline.Initialize(application.shutdown.Context(),
		pipeline.InitStep{Name: "opencv", Run: application.checkOpenCV},
		pipeline.InitStep{Name: "filter", Run: application.buildChain},
		pipeline.InitStep{Name: "source", Run: application.openSource},
		pipeline.InitStep{Name: "sinks", Run: application.openSinks},
	)
	if err != nil {
		application.shutdown.Shutdown()
		return nil, err
	}

	runner, err := pipeline.NewRunner(ready, application.source, application.chain, application.sinks, pipeline.Options{
		FrameBudget: cfg.Pipeline.FrameBudget,
		Recycler:    application.pool,
		Logger:      appLogger,
		LogEvery:    cfg.Pipeline.LogEvery,
	})
	if err != nil {
		application.shutdown.Shutdown()
		return nil, err
	}
	application.runner = runner

	if application.stream != nil {
		if err := application.stream.Start(); err != nil {
			application.shutdown.Shutdown()
			return nil, fmt.Errorf("stream listen on %s: %w", cfg.Stream.Addr, err)
		}
	}

	// Registered last so it stops first; sinks and source close only after
	// the loop has returned.
	application.shutdown.Register("runner", shutdown.Func(func() {
		runner.Shutdown()
		<-application.runDone
	}))

	appLogger.Info("Application", "initialized", map[string]interface{}{
		"session_id": ready.SessionID,
		"steps":      ready.Steps,
		"chain":      application.chain.StepNames(),
	})

	return application, nil
}

func (a *Application) checkOpenCV(context.Context) error {
	version := gocv.OpenCVVersion()
	if version == "" {
		return fmt.Errorf("opencv runtime not available")
	}
	a.logger.Info("Application", "opencv runtime", map[string]interface{}{
		"opencv_version": version,
		"gocv_version":   gocv.Version(),
	})
	return nil
}

func (a *Application) buildChain(context.Context) error {
	params := a.cfg.Filter.Params()

	var stage chain.Stage
	switch a.cfg.Filter.Backend {
	case config.BackendOpenCV:
		s, err := filters.NewOpenCVThreshold(params)
		if err != nil {
			return err
		}
		a.shutdown.Register("opencv_threshold", shutdown.Closer("opencv_threshold", s, a.logger))
		stage = s
	default:
		s, err := threshold.New(params)
		if err != nil {
			return err
		}
		a.shutdown.Register("adaptive_threshold", shutdown.Func(s.Release))
		stage = s
	}
	a.chain = chain.NewProcessingChain(stage)

	if a.cfg.Overlay {
		o := filters.NewOverlay(params.MaxValue, a.overlayText)
		a.shutdown.Register("overlay", shutdown.Closer("overlay", o, a.logger))
		a.chain.AddStep(o)
	}
	return nil
}

// overlayText reports the previous frame's compute time, as the current
// one is still in flight.
func (a *Application) overlayText(f *frame.Frame) string {
	if a.runner == nil {
		return ""
	}
	s := a.runner.Stats()
	return fmt.Sprintf("#%d  %.1f ms", f.Seq, float64(s.LastCompute.Microseconds())/1000)
}

func (a *Application) openSource(context.Context) error {
	src := a.cfg.Source

	var (
		source pipeline.Source
		err    error
	)
	switch src.Type {
	case config.SourceCamera:
		source, err = capture.OpenCamera(capture.CameraConfig{
			Device:        src.Camera.Device,
			Width:         src.Camera.Width,
			Height:        src.Camera.Height,
			FPS:           float64(src.Camera.FPS),
			MaxEmptyReads: src.Camera.MaxEmptyReads,
		}, a.pool, a.logger)
	case config.SourceFiles:
		source, err = capture.OpenFiles(capture.FilesConfig{
			Pattern:  src.Files.Pattern,
			Interval: src.Files.Interval,
			Loop:     src.Files.Loop,
		}, a.pool, a.logger)
	case config.SourceSynthetic:
		source, err = capture.NewSynthetic(capture.SyntheticConfig{
			Width:    src.Synthetic.Width,
			Height:   src.Synthetic.Height,
			Interval: src.Synthetic.Interval,
			Limit:    src.Synthetic.Limit,
		}, a.pool)
	case config.SourceZMQ:
		source, err = capture.OpenZMQ(capture.ZMQConfig{
			Endpoint:     src.ZMQ.Endpoint,
			PollInterval: src.ZMQ.PollInterval,
		}, a.pool, a.logger)
	default:
		return fmt.Errorf("unknown source %q", src.Type)
	}
	if err != nil {
		return err
	}

	a.source = source
	a.shutdown.Register("source", shutdown.Closer("source", source, a.logger))
	return nil
}

func (a *Application) openSinks(context.Context) error {
	// Sinks close as a group, after the source.
	a.shutdown.Register("sinks", shutdown.Closer("sinks", a.sinks, a.logger))

	for _, name := range a.cfg.Sinks {
		switch name {
		case config.SinkWindow:
			if a.window != nil {
				continue
			}
			a.fyneApp = app.NewWithID(AppID)
			a.window = display.NewWindow(a.fyneApp, a.cfg.Window.Title, a.cfg.Window.Width, a.cfg.Window.Height)
			a.window.SetOnClosed(func() {
				a.logger.Info("Application", "window closed", nil)
				go a.shutdown.Shutdown()
			})
			a.sinks.Add(a.window)
		case config.SinkSnapshots:
			s, err := display.NewSnapshots(display.SnapshotConfig{
				Dir:   a.cfg.Snapshots.Dir,
				Every: a.cfg.Snapshots.Every,
			})
			if err != nil {
				return err
			}
			a.sinks.Add(s)
		case config.SinkStream:
			a.stream = display.NewStream(display.StreamConfig{
				Addr:  a.cfg.Stream.Addr,
				Every: a.cfg.Stream.Every,
			}, a.statsPayload, a.logger)
			a.sinks.Add(a.stream)
		case config.SinkDiscard:
			a.sinks.Add(display.Discard{})
		default:
			return fmt.Errorf("unknown sink %q", name)
		}
	}
	return nil
}

func (a *Application) statsPayload() any {
	payload := map[string]any{
		"pool": a.pool.Stats(),
	}
	if a.runner != nil {
		payload["runner"] = a.runner.Stats()
	}
	return payload
}

// Run drives the pipeline until the source ends, a stage fails, the
// window closes or Ctrl-C. The fyne loop, when present, owns the main
// goroutine.
func (a *Application) Run() error {
	a.shutdown.Listen()

	go func() {
		ctx := a.shutdown.Context()
		if a.cfg.Pipeline.Latest {
			a.runErr = a.runner.RunLatest(ctx)
		} else {
			a.runErr = a.runner.Run(ctx)
		}
		close(a.runDone)
		a.shutdown.Shutdown()
	}()

	if a.window != nil {
		a.window.ShowAndRun()
	}

	<-a.runDone
	a.shutdown.Shutdown()

	stats := a.runner.Stats()
	a.logger.Info("Application", "terminated", map[string]interface{}{
		"session_id":      stats.SessionID,
		"frames":          stats.Frames,
		"dropped":         stats.Dropped,
		"overruns":        stats.Overruns,
		"mean_compute_ms": strconv.FormatFloat(float64(stats.MeanCompute.Microseconds())/1000, 'f', 2, 64),
		"pool_hits":       a.pool.Stats().Hits,
	})
	return a.runErr
}
