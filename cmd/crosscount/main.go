// Command crosscount counts tracked objects crossing regions of a video and
// writes an annotated copy of it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crosscount/internal/camera"
	"crosscount/internal/config"
	"crosscount/internal/counter"
	"crosscount/internal/database"
	"crosscount/internal/frame"
	"crosscount/internal/framesaver"
	"crosscount/internal/fsutil"
	"crosscount/internal/httpserver"
	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
	"crosscount/internal/stream"
	"crosscount/internal/tracking"
	"crosscount/internal/video"
	"crosscount/internal/ws"
)

// countsLineHeight separates the count overlays of several regions
const countsLineHeight = 18

// previewName is the stream name of the annotated output
const previewName = "output"

// firstFrameTimeout bounds the wait for a live input to deliver its first frame
const firstFrameTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "crosscount: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	cfg, err := config.LoadCounter(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "CrossCount")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT and SIGTERM finish the current frame and end the run.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		sig := <-c
		log.Infof("Received %s, stopping after the current frame", sig)
		cancel()
	}()

	source, info, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer source.Close()
	log.Infof("Input %s: %dx%d @ %.2f fps", cfg.Input, info.Width, info.Height, info.FPS)

	counters, regions, err := buildCounters(cfg, info.Width, info.Height)
	if err != nil {
		return err
	}

	trackerCfg := cfg.Tracker
	if trackerCfg.Stream == "" {
		trackerCfg.Stream = filepath.Base(cfg.Input)
	}
	tracker, err := tracking.New(trackerCfg, logger)
	if err != nil {
		return err
	}
	defer tracker.Close()

	healthCtx, healthCancel := context.WithTimeout(ctx, trackerCfg.Timeout+time.Second)
	healthy := tracker.IsHealthy(healthCtx)
	healthCancel()
	if !healthy {
		return fmt.Errorf("%s tracker at %s is not available", tracker.Name(), trackerCfg.Endpoint)
	}

	outPath := cfg.Output
	if cfg.AutoIncrement {
		if outPath, err = fsutil.Available(cfg.Output); err != nil {
			return err
		}
	}
	writer, err := video.NewWriter(outPath, info.FPS, info.Width, info.Height, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize %s: %w", outPath, cerr)
		}
	}()
	log.Infof("Writing annotated video to %s", outPath)

	sinks := []pipeline.Sink{writer}
	var rawSinks []pipeline.Sink
	if cfg.FramesDir != "" {
		saver, err := framesaver.New(framesaver.Config{Dir: cfg.FramesDir}, logger)
		if err != nil {
			return err
		}
		defer saver.Close()
		rawSinks = append(rawSinks, saver)
	}

	runID := uuid.New().String()
	bus := pipeline.NewEventBus()
	defer bus.Close()

	var db *database.Database
	if cfg.DB != "" {
		db, err = openDatabase(cfg.DB, &database.RunRecord{
			ID:      runID,
			Source:  cfg.Input,
			Tracker: tracker.Name(),
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		bus.Subscribe(db)

		if cfg.DBRetention > 0 {
			n, err := db.DeleteRunsBefore(time.Now().Add(-cfg.DBRetention))
			if err != nil {
				return err
			}
			if n > 0 {
				log.Infof("Deleted %d run(s) older than %s", n, cfg.DBRetention)
			}
		}
	}

	if cfg.Listen != "" {
		previews := stream.NewManager(logger)
		defer previews.Close()
		preview, err := previews.Create(previewName, 0)
		if err != nil {
			return err
		}
		sinks = append(sinks, preview)

		hub := ws.NewCountHub(runID, logger)
		defer hub.Close()
		for _, c := range counters {
			hub.SetCounts(c.Name(), 0, 0)
		}
		bus.Subscribe(hub)

		srv := httpserver.New(cfg.Listen, logger)
		srv.Handle("GET /ws/counts/{name}", ws.NewHandler(hub))
		srv.Handle("GET /preview/{name}", previews)
		srv.Handle("GET /snapshot/{name}", previews.SnapshotHandler())
		if db != nil {
			runs := database.NewHandler(db, logger)
			srv.Handle("GET /runs", http.HandlerFunc(runs.Runs))
			srv.Handle("GET /runs/{id}", http.HandlerFunc(runs.Run))
			srv.Handle("GET /runs/{id}/crossings", http.HandlerFunc(runs.Crossings))
		}

		srvCtx, srvCancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		errc := make(chan error, 1)
		if err := srv.Start(srvCtx, &wg, errc); err != nil {
			srvCancel()
			return err
		}
		go func() {
			if err := <-errc; err != nil {
				log.Errorf("HTTP server failed: %v", err)
			}
		}()
		defer func() {
			srvCancel()
			wg.Wait()
		}()
	}

	p := pipeline.New(pipeline.Config{
		RunID:              runID,
		MaxTrackerFailures: cfg.MaxTrackerFailures,
	}, source, tracker, counters, sinks, bus, logger)
	p.SetRawSinks(rawSinks...)

	summary, runErr := p.Run(ctx)
	printCounts(summary)
	log.WithFields(logrus.Fields{
		"run":       summary.RunID,
		"frames":    summary.Frames,
		"crossings": summary.Crossings,
		"failures":  summary.TrackerFailures,
	}).Infof("Run finished in %s", summary.Duration.Round(time.Millisecond))

	if db != nil {
		if err := db.FinishRun(summary, regions); err != nil {
			log.Errorf("Failed to store run summary: %v", err)
		}
	}
	return runErr
}

// deviceSource reads a live input; closing it stops the capture process
type deviceSource struct {
	*camera.Channel
	device *camera.Device
}

func (s deviceSource) Close() error {
	return s.device.Close()
}

// openSource opens the input as a video file, or as a live capture when it
// names a device node or stream URL. Live inputs without a configured size
// report the size of their first frame.
func openSource(ctx context.Context, cfg *config.Counter, logger logrus.FieldLogger) (pipeline.FrameSource, frame.Info, error) {
	if !cfg.InputIsDevice() {
		source, err := video.OpenFile(cfg.Input)
		if err != nil {
			return nil, frame.Info{}, err
		}
		return source, source.Info(), nil
	}

	chCfg := cfg.InputChannel()
	device, err := camera.Open(ctx, []camera.ChannelConfig{chCfg}, logger)
	if err != nil {
		return nil, frame.Info{}, err
	}
	ch, err := device.Channel(chCfg.Name)
	if err != nil {
		device.Close()
		return nil, frame.Info{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()
	info, err := ch.WaitInfo(waitCtx)
	if err != nil {
		device.Close()
		return nil, frame.Info{}, fmt.Errorf("input %s: %w", cfg.Input, err)
	}
	return deviceSource{Channel: ch, device: device}, info, nil
}

// buildCounters creates one counter per configured region. Count overlays
// are stacked so several regions stay readable.
func buildCounters(cfg *config.Counter, width, height int) ([]*counter.Counter, map[string]string, error) {
	configs, err := cfg.Counters(width, height)
	if err != nil {
		return nil, nil, err
	}

	counters := make([]*counter.Counter, 0, len(configs))
	regions := make(map[string]string, len(configs))
	for i, cc := range configs {
		c, err := counter.New(cc)
		if err != nil {
			return nil, nil, fmt.Errorf("counter %s: %w", cc.Name, err)
		}
		style := counter.DefaultStyle()
		style.CountsAt = image.Pt(style.CountsAt.X, style.CountsAt.Y+i*countsLineHeight)
		c.SetStyle(style)

		counters = append(counters, c)
		regions[c.Name()] = c.Region().String()
	}
	return counters, regions, nil
}

func openDatabase(path string, run *database.RunRecord, logger logrus.FieldLogger) (*database.Database, error) {
	db, err := database.New(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.CreateRun(run); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func printCounts(summary *pipeline.Summary) {
	for _, c := range summary.Counters {
		if len(summary.Counters) == 1 {
			fmt.Printf("Inward count: %d, Outward count: %d\n", c.In, c.Out)
			continue
		}
		fmt.Printf("%s: Inward count: %d, Outward count: %d\n", c.Name, c.In, c.Out)
	}
}
