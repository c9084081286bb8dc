package tracking

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type trackHandler func(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)

// startTrackingServer serves the Track method and the health service on an
// in-memory listener and returns a tracker connected to it.
func startTrackingServer(t *testing.T, servingStatus healthpb.HealthCheckResponse_ServingStatus, handler trackHandler) *GRPCTracker {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: TrackingService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Track",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return handler(ctx, in)
			},
		}},
	}, struct{}{})

	hs := health.NewServer()
	hs.SetServingStatus(TrackingService, servingStatus)
	healthpb.RegisterHealthServer(s, hs)

	go s.Serve(lis)
	t.Cleanup(s.Stop)

	tr, err := NewGRPCTracker(Config{Kind: KindGRPC, Endpoint: "passthrough:///bufnet", Model: "obb.pt"}, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestGRPCTrackerObserve(t *testing.T) {
	tr := startTrackingServer(t, healthpb.HealthCheckResponse_SERVING, func(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if got := md.Get("model"); len(got) != 1 || got[0] != "obb.pt" {
			return nil, status.Errorf(codes.InvalidArgument, "model metadata missing: %v", got)
		}
		if len(in.GetValue()) < 2 || in.GetValue()[0] != 0xFF {
			return nil, status.Error(codes.InvalidArgument, "not a jpeg")
		}
		return structpb.NewStruct(map[string]any{
			"tracks": []any{
				map[string]any{"track_id": 4, "class": "car", "class_id": 2, "confidence": 0.75, "obb": []any{100.0, 50.0, 40.0, 20.0, 0.0}},
				map[string]any{"track_id": nil, "class": "car", "class_id": 2, "confidence": 0.3, "bbox": []any{0.0, 0.0, 1.0, 1.0}},
			},
			"inference_time_ms": 12.5,
			"device":            "cuda",
		})
	})

	ctx := context.Background()
	assert.True(t, tr.IsHealthy(ctx))

	obs, err := tr.Observe(ctx, testFrame(1))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 4, obs[0].TrackID)
	assert.Equal(t, 2, obs[0].ClassID)
	assert.Equal(t, "car", obs[0].Class)
	assert.InDelta(t, 100, obs[0].Shape.Centroid().X, 1e-9)
}

func TestGRPCTrackerServerError(t *testing.T) {
	tr := startTrackingServer(t, healthpb.HealthCheckResponse_NOT_SERVING, func(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model loading")
	})

	ctx := context.Background()
	assert.False(t, tr.IsHealthy(ctx))

	_, err := tr.Observe(ctx, testFrame(1))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
