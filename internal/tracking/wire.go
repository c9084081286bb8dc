package tracking

import (
	"math"
	"strconv"
	"strings"

	"crosscount/internal/geometry"
)

// trackResponse is the JSON document returned by every backend. Numbers are
// decoded as floats because the gRPC backend carries them in a protobuf
// Struct, which has no integer type.
type trackResponse struct {
	Tracks          []trackItem `json:"tracks"`
	InferenceTimeMs float64     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

type trackItem struct {
	TrackID    *float64  `json:"track_id"`
	Class      string    `json:"class"`
	ClassID    float64   `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	OBB        []float64 `json:"obb"`  // [cx, cy, w, h, angle]
}

// observations converts the response, dropping items without a track id
// or without usable geometry. Oriented boxes win over axis-aligned ones.
func (r *trackResponse) observations() []Observation {
	out := make([]Observation, 0, len(r.Tracks))
	for _, t := range r.Tracks {
		if t.TrackID == nil || math.IsNaN(*t.TrackID) {
			continue
		}
		var shape geometry.Shape
		switch {
		case len(t.OBB) >= 5:
			shape = geometry.OrientedBox{CX: t.OBB[0], CY: t.OBB[1], W: t.OBB[2], H: t.OBB[3], Angle: t.OBB[4]}
		case len(t.BBox) >= 4:
			shape = geometry.Box{X1: t.BBox[0], Y1: t.BBox[1], X2: t.BBox[2], Y2: t.BBox[3]}
		default:
			continue
		}
		out = append(out, Observation{
			TrackID:    int(*t.TrackID),
			ClassID:    int(t.ClassID),
			Class:      t.Class,
			Confidence: float32(t.Confidence),
			Shape:      shape,
		})
	}
	return out
}

func joinClasses(classes []int) string {
	parts := make([]string, len(classes))
	for i, c := range classes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// requestFields are the options sent with every frame, as form fields or
// gRPC metadata.
func (c Config) requestFields() [][2]string {
	return [][2]string{
		{"conf_threshold", strconv.FormatFloat(float64(c.Confidence), 'f', 2, 32)},
		{"classes", joinClasses(c.Classes)},
		{"tracker", c.TrackerConfig},
		{"model", c.Model},
		{"device", c.Device},
		{"stream", c.Stream},
		{"persist", "true"},
	}
}
