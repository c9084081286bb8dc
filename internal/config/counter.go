package config

import (
	"flag"
	"fmt"
	"time"

	"crosscount/internal/camera"
	"crosscount/internal/counter"
	"crosscount/internal/geometry"
	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
	"crosscount/internal/tracking"
)

// CounterEnvPrefix prefixes the environment variables read by crosscount
const CounterEnvPrefix = "CROSSCOUNT_"

// Counter holds the crosscount settings
type Counter struct {
	Input         string `validate:"required"`
	Output        string `validate:"required"`
	AutoIncrement bool

	// Capture settings when Input is a device or stream URL
	InputFormat string
	InputWidth  int `validate:"gte=0"`
	InputHeight int `validate:"gte=0"`
	InputFPS    int `validate:"gte=0"`

	Region       string // x,y;x,y;...
	RegionPreset string `validate:"omitempty,oneof=line box full"`
	RegionFile   string
	Regions      []RegionDef `validate:"dive"` // Loaded from RegionFile

	Tracker            tracking.Config
	EvictAfter         int `validate:"gte=0"`
	HistoryLen         int `validate:"gte=1"`
	SegmentOnly        bool
	MaxTrackerFailures int `validate:"gte=1"`

	DB          string
	DBRetention time.Duration `validate:"gte=0"`
	Listen      string        `validate:"omitempty,hostname_port"`
	FramesDir   string

	Log logging.Options
}

// LoadCounter parses crosscount's command line. Values not given as flags
// come from CROSSCOUNT_* variables, which may be set in the env file.
func LoadCounter(args []string) (*Counter, error) {
	cfg := &Counter{}
	fset := flag.NewFlagSet("crosscount", flag.ContinueOnError)

	var (
		classes intList
		conf    float64
		timeout time.Duration
		kind    string
		envFile string
		inSize  size
	)

	fset.StringVar(&envFile, "env-file", ".env", "Environment file with CROSSCOUNT_* defaults")
	fset.StringVar(&cfg.Input, "input", "", "Input video path, camera device node or rtsp/http stream URL")
	fset.StringVar(&cfg.Output, "output", "output.mp4", "Annotated output video path")
	fset.StringVar(&cfg.InputFormat, "input-format", "", "ffmpeg input format for device nodes (default v4l2)")
	fset.Var(&inSize, "input-size", "Capture resolution WIDTHxHEIGHT for devices (default: as delivered)")
	fset.IntVar(&cfg.InputFPS, "input-fps", 30, "Capture frame rate for devices and streams")
	fset.BoolVar(&cfg.AutoIncrement, "auto-increment", true, "Number the output file instead of overwriting it")
	fset.StringVar(&cfg.Region, "region", "", "Region points x,y;x,y;... (2 points = line, 3+ = polygon)")
	fset.StringVar(&cfg.RegionPreset, "region-preset", geometry.PresetBox, "Region computed from the frame size: line, box or full")
	fset.StringVar(&cfg.RegionFile, "region-file", "", "YAML file with named regions")
	fset.StringVar(&kind, "tracker", string(tracking.KindHTTP), "Tracker backend: http, grpc or replay")
	fset.StringVar(&cfg.Tracker.Endpoint, "tracker-endpoint", tracking.DefaultEndpoint, "Tracker address, or the replay file")
	fset.StringVar(&cfg.Tracker.Model, "model", tracking.DefaultModel, "Model weights used by the tracking service")
	fset.StringVar(&cfg.Tracker.TrackerConfig, "tracker-config", tracking.DefaultTrackerConfig, "Tracker configuration on the tracking service")
	fset.StringVar(&cfg.Tracker.Device, "device", tracking.DefaultDevice, "Inference device on the tracking service")
	fset.Float64Var(&conf, "conf", tracking.DefaultConfidence, "Confidence threshold")
	fset.DurationVar(&timeout, "tracker-timeout", tracking.DefaultTimeout, "Timeout of one tracker request")
	fset.Var(&classes, "classes", "Comma separated class ids to count (default all)")
	fset.IntVar(&cfg.EvictAfter, "evict-after", counter.DefaultEvictAfter, "Frames a track may be missing before it is forgotten")
	fset.IntVar(&cfg.HistoryLen, "history", counter.DefaultHistoryLen, "Centroids kept per track")
	fset.BoolVar(&cfg.SegmentOnly, "segment-only", false, "Count line crossings only across the drawn segment")
	fset.IntVar(&cfg.MaxTrackerFailures, "max-tracker-failures", pipeline.DefaultMaxTrackerFailures, "Consecutive tracker errors before the run aborts")
	fset.StringVar(&cfg.DB, "db", "", "SQLite database for runs and crossings")
	fset.DurationVar(&cfg.DBRetention, "db-retention", 0, "Delete stored runs older than this at startup (0 keeps all)")
	fset.StringVar(&cfg.Listen, "listen", "", "HTTP address for live counts and preview, e.g. :8080")
	fset.StringVar(&cfg.FramesDir, "frames-dir", "", "Also save the raw input frames as JPEG into this directory")
	fset.StringVar(&cfg.Log.Level, "log-level", "info", "Log level")
	fset.StringVar(&cfg.Log.File, "log-file", "", "Log file, rotated by size")

	if err := parse(fset, &envFile, CounterEnvPrefix, args); err != nil {
		return nil, err
	}

	cfg.Tracker.Kind = tracking.Kind(kind)
	cfg.Tracker.Confidence = float32(conf)
	cfg.Tracker.Timeout = timeout
	cfg.Tracker.Classes = []int(classes)
	cfg.InputWidth, cfg.InputHeight = inSize.Width, inSize.Height

	if cfg.RegionFile != "" {
		regions, err := LoadRegionFile(cfg.RegionFile)
		if err != nil {
			return nil, err
		}
		cfg.Regions = regions
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Counters builds one counter config per configured region. The region file
// wins over -region, which wins over the preset. Presets are computed for a
// width x height frame.
func (c *Counter) Counters(width, height int) ([]counter.Config, error) {
	base := counter.Config{
		Classes:     c.Tracker.Classes,
		EvictAfter:  c.EvictAfter,
		HistoryLen:  c.HistoryLen,
		SegmentOnly: c.SegmentOnly,
	}

	if len(c.Regions) > 0 {
		out := make([]counter.Config, 0, len(c.Regions))
		seen := make(map[string]bool)
		for _, def := range c.Regions {
			if seen[def.Name] {
				return nil, fmt.Errorf("duplicate region name %q", def.Name)
			}
			seen[def.Name] = true

			region, err := def.Region()
			if err != nil {
				return nil, err
			}
			cc := base
			cc.Name = def.Name
			cc.Region = region
			if len(def.Classes) > 0 {
				cc.Classes = def.Classes
			}
			cc.SegmentOnly = c.SegmentOnly || def.SegmentOnly
			out = append(out, cc)
		}
		return out, nil
	}

	name := "region"
	var points []geometry.Point
	var err error
	if c.Region != "" {
		points, err = geometry.ParsePoints(c.Region)
	} else {
		preset := c.RegionPreset
		if preset == "" {
			preset = geometry.PresetBox
		}
		name = preset
		points, err = geometry.PresetPoints(preset, width, height)
	}
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	region, err := geometry.NewRegion(points)
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}

	base.Name = name
	base.Region = region
	return []counter.Config{base}, nil
}

// InputIsDevice reports whether Input is captured live instead of read from a file
func (c *Counter) InputIsDevice() bool {
	return camera.IsDevice(c.Input)
}

// InputChannel returns the capture settings of a device or stream Input
func (c *Counter) InputChannel() camera.ChannelConfig {
	return camera.ChannelConfig{
		Name:        "input",
		Device:      c.Input,
		Width:       c.InputWidth,
		Height:      c.InputHeight,
		FPS:         c.InputFPS,
		InputFormat: c.InputFormat,
	}
}
