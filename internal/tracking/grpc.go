package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// Fully qualified names of the tracking service
const (
	TrackingService = "crosscount.tracking.v1.TrackingService"
	trackMethod     = "/" + TrackingService + "/Track"
)

// GRPCTracker calls the tracking service over a unary gRPC method. The
// request is the JPEG frame in a BytesValue; the response is the track
// document as a Struct.
type GRPCTracker struct {
	cfg    Config
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	log    *logrus.Entry

	healthMu   sync.Mutex
	healthy    bool
	lastHealth time.Time
}

// NewGRPCTracker creates a client for the service at cfg.Endpoint. The
// connection is established lazily on the first call.
func NewGRPCTracker(cfg Config, logger logrus.FieldLogger, opts ...grpc.DialOption) (*GRPCTracker, error) {
	cfg = cfg.withDefaults()

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", cfg.Endpoint, err)
	}

	return &GRPCTracker{
		cfg:    cfg,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		log:    logging.Component(logger, "GRPCTracker"),
	}, nil
}

func (t *GRPCTracker) Name() string {
	return string(KindGRPC)
}

// IsHealthy queries the standard health service, caching success for 30 seconds
func (t *GRPCTracker) IsHealthy(ctx context.Context) bool {
	t.healthMu.Lock()
	defer t.healthMu.Unlock()

	if t.healthy && time.Since(t.lastHealth) < healthCacheTTL {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	resp, err := t.health.Check(ctx, &healthpb.HealthCheckRequest{Service: TrackingService})
	if err != nil {
		t.log.Warnf("Health check failed: %v", err)
		t.healthy = false
		return false
	}

	t.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if t.healthy {
		t.lastHealth = time.Now()
	}
	return t.healthy
}

// Observe sends one frame and converts the returned track document
func (t *GRPCTracker) Observe(ctx context.Context, f *frame.Frame) ([]Observation, error) {
	imageData, err := f.JPEG(frame.DefaultJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	md := metadata.MD{}
	for _, field := range t.cfg.requestFields() {
		md.Set(field[0], field[1])
	}
	ctx = metadata.NewOutgoingContext(ctx, md)
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, trackMethod, wrapperspb.Bytes(imageData), resp); err != nil {
		t.healthMu.Lock()
		t.healthy = false
		t.healthMu.Unlock()
		return nil, fmt.Errorf("track call: %w", err)
	}

	data, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal track response: %w", err)
	}
	var result trackResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode track response: %w", err)
	}

	obs := result.observations()
	t.log.Debugf("Frame %d: %d tracks, %d usable (%.1fms on %s)",
		f.Seq, len(result.Tracks), len(obs), result.InferenceTimeMs, result.Device)
	return obs, nil
}

// Close shuts down the gRPC connection
func (t *GRPCTracker) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

var _ Tracker = (*GRPCTracker)(nil)
