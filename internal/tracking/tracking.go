// Package tracking adapts external multi-object trackers to a single
// interface. Backends return one Observation per tracked object per frame.
package tracking

import (
	"context"
	"time"

	"crosscount/internal/frame"
	"crosscount/internal/geometry"
)

// Observation is one tracked object in one frame
type Observation struct {
	TrackID    int            // Stable identifier assigned by the tracker
	ClassID    int            // Model class index
	Class      string         // Model class name
	Confidence float32        // Detection confidence [0-1]
	Shape      geometry.Shape // Box or OrientedBox in frame pixels
}

// Tracker is the interface implemented by every tracking backend
type Tracker interface {
	// Name returns the backend identifier (e.g., "http", "grpc", "replay")
	Name() string

	// IsHealthy returns true if the backend can serve requests
	IsHealthy(ctx context.Context) bool

	// Observe returns the tracked objects of a frame. Objects without a track
	// id are dropped; a frame without any yields an empty slice and nil error.
	Observe(ctx context.Context, f *frame.Frame) ([]Observation, error)

	// Close releases backend resources
	Close() error
}

// Kind selects a backend in New
type Kind string

const (
	KindHTTP   Kind = "http"
	KindGRPC   Kind = "grpc"
	KindReplay Kind = "replay"
)

// Defaults applied by Config.withDefaults
const (
	DefaultEndpoint      = "http://localhost:8000"
	DefaultModel         = "Models/v18n.pt"
	DefaultTrackerConfig = "tracker.yaml"
	DefaultDevice        = "mps"
	DefaultConfidence    = 0.25
	DefaultTimeout       = 5 * time.Second
	healthCacheTTL       = 30 * time.Second
)

// Config holds the backend selection and the options forwarded to it
type Config struct {
	Kind          Kind          `yaml:"kind" validate:"omitempty,oneof=http grpc replay"`
	Endpoint      string        `yaml:"endpoint"`       // Base URL, host:port or replay file
	Model         string        `yaml:"model"`          // Model weights on the tracking service
	TrackerConfig string        `yaml:"tracker_config"` // Tracker configuration name on the service
	Device        string        `yaml:"device"`         // Inference device on the service
	Confidence    float32       `yaml:"confidence" validate:"gte=0,lte=1"`
	Classes       []int         `yaml:"classes" validate:"dive,gte=0"`
	Stream        string        `yaml:"stream"` // Tracker state key, one per video
	Timeout       time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindHTTP
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.TrackerConfig == "" {
		c.TrackerConfig = DefaultTrackerConfig
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Confidence <= 0 {
		c.Confidence = DefaultConfidence
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
