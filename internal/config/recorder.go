package config

import (
	"flag"

	"crosscount/internal/camera"
	"crosscount/internal/logging"
)

// RecorderEnvPrefix prefixes the environment variables read by stereorec
const RecorderEnvPrefix = "STEREOREC_"

// Channel names of a stereo device
const (
	ChannelColor = "color"
	ChannelMono  = "mono"
)

// Recorder holds the stereorec settings
type Recorder struct {
	ColorDevice string `validate:"required"`
	MonoDevice  string `validate:"required"`
	ColorWidth  int    `validate:"gt=0"`
	ColorHeight int    `validate:"gt=0"`
	MonoWidth   int    `validate:"gt=0"`
	MonoHeight  int    `validate:"gt=0"`
	FPS         int    `validate:"gt=0"`
	Queue       int    `validate:"gt=0"`
	InputFormat string

	OutDir    string
	ColorBase string `validate:"required"`
	MonoBase  string `validate:"required"`
	FramesDir string
	Listen    string `validate:"omitempty,hostname_port"`

	Log logging.Options
}

// LoadRecorder parses stereorec's command line. Values not given as flags
// come from STEREOREC_* variables, which may be set in the env file.
func LoadRecorder(args []string) (*Recorder, error) {
	cfg := &Recorder{}
	fset := flag.NewFlagSet("stereorec", flag.ContinueOnError)

	colorSize := size{Width: 1920, Height: 1080}
	monoSize := size{Width: 1280, Height: 720}
	var envFile string

	fset.StringVar(&envFile, "env-file", ".env", "Environment file with STEREOREC_* defaults")
	fset.StringVar(&cfg.ColorDevice, "color-device", "/dev/video0", "Color camera device or stream URL")
	fset.StringVar(&cfg.MonoDevice, "mono-device", "/dev/video2", "Mono camera device or stream URL")
	fset.Var(&colorSize, "color-size", "Color resolution WIDTHxHEIGHT")
	fset.Var(&monoSize, "mono-size", "Mono resolution WIDTHxHEIGHT")
	fset.IntVar(&cfg.FPS, "fps", 30, "Capture and output frame rate")
	fset.IntVar(&cfg.Queue, "queue", 60, "Frames buffered per channel before the oldest is dropped")
	fset.StringVar(&cfg.InputFormat, "input-format", "", "ffmpeg input format for device nodes (default v4l2)")
	fset.StringVar(&cfg.OutDir, "out-dir", ".", "Directory for the recorded videos")
	fset.StringVar(&cfg.ColorBase, "color-base", "rgb_video", "Color video base name")
	fset.StringVar(&cfg.MonoBase, "mono-base", "mono_video", "Mono video base name")
	fset.StringVar(&cfg.FramesDir, "frames-dir", "", "Also save every frame as JPEG under this directory")
	fset.StringVar(&cfg.Listen, "listen", "", "HTTP address for the live preview, e.g. :8080")
	fset.StringVar(&cfg.Log.Level, "log-level", "info", "Log level")
	fset.StringVar(&cfg.Log.File, "log-file", "", "Log file, rotated by size")

	if err := parse(fset, &envFile, RecorderEnvPrefix, args); err != nil {
		return nil, err
	}

	cfg.ColorWidth, cfg.ColorHeight = colorSize.Width, colorSize.Height
	cfg.MonoWidth, cfg.MonoHeight = monoSize.Width, monoSize.Height

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Channels returns the capture configuration of both channels
func (r *Recorder) Channels() []camera.ChannelConfig {
	return []camera.ChannelConfig{
		{
			Name:        ChannelColor,
			Device:      r.ColorDevice,
			Width:       r.ColorWidth,
			Height:      r.ColorHeight,
			FPS:         r.FPS,
			QueueSize:   r.Queue,
			InputFormat: r.InputFormat,
		},
		{
			Name:        ChannelMono,
			Device:      r.MonoDevice,
			Width:       r.MonoWidth,
			Height:      r.MonoHeight,
			FPS:         r.FPS,
			Gray:        true,
			QueueSize:   r.Queue,
			InputFormat: r.InputFormat,
		},
	}
}
