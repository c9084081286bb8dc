// Command stereorec records the color and mono channels of a stereo camera
// into separate video files, never overwriting earlier recordings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"crosscount/internal/camera"
	"crosscount/internal/config"
	"crosscount/internal/framesaver"
	"crosscount/internal/fsutil"
	"crosscount/internal/httpserver"
	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
	"crosscount/internal/stream"
	"crosscount/internal/video"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "stereorec: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	cfg, err := config.LoadRecorder(args)
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
	log := logging.Component(logger, "StereoRec")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		sig := <-c
		log.Infof("Received %s, stopping recording", sig)
		cancel()
	}()

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	device, err := camera.Open(ctx, cfg.Channels(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := device.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var previews *stream.Manager
	if cfg.Listen != "" {
		previews = stream.NewManager(logger)
		defer previews.Close()
	}

	bases := map[string]string{
		config.ChannelColor: cfg.ColorBase,
		config.ChannelMono:  cfg.MonoBase,
	}

	var tracks []camera.Track
	for _, ch := range device.Channels() {
		sink, closeSink, serr := channelSink(cfg, ch, bases[ch.Name()], previews, logger)
		if serr != nil {
			return serr
		}
		defer func() {
			if cerr := closeSink(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		tracks = append(tracks, camera.Track{Source: ch, Sink: sink})
	}

	if previews != nil {
		srv := httpserver.New(cfg.Listen, logger)
		srv.Handle("GET /preview/{name}", previews)
		srv.Handle("GET /snapshot/{name}", previews.SnapshotHandler())

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

	fmt.Println("Recording videos. Press Ctrl+C to stop.")
	written, err := camera.NewRecorder(tracks, logger).Run(ctx)
	for i, t := range tracks {
		log.Infof("%s: %d frames recorded", t.Source.Name(), written[i])
	}
	return err
}

// channelSink opens the video writer of a channel plus the optional frame
// dump and preview. The returned close function finalizes the video.
func channelSink(cfg *config.Recorder, ch *camera.Channel, base string, previews *stream.Manager, logger logrus.FieldLogger) (pipeline.Sink, func() error, error) {
	info := ch.Info()
	gray := ch.Name() == config.ChannelMono

	path, err := fsutil.NextFilename(filepath.Join(cfg.OutDir, base), ".mp4")
	if err != nil {
		return nil, nil, err
	}
	writer, err := video.NewWriter(path, info.FPS, info.Width, info.Height, gray)
	if err != nil {
		return nil, nil, err
	}
	logging.Component(logger, "StereoRec").Infof("Recording %s to %s", ch.Name(), path)

	sinks := pipeline.MultiSink{writer}
	if cfg.FramesDir != "" {
		saver, err := framesaver.New(framesaver.Config{
			Dir:    filepath.Join(cfg.FramesDir, ch.Name()),
			Prefix: ch.Name(),
		}, logger)
		if err != nil {
			writer.Close()
			return nil, nil, err
		}
		sinks = append(sinks, saver)
	}
	if previews != nil {
		preview, err := previews.Create(ch.Name(), 0)
		if err != nil {
			sinks.Close()
			return nil, nil, err
		}
		sinks = append(sinks, preview)
	}
	return sinks, sinks.Close, nil
}
