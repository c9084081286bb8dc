package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// HTTPTracker posts each frame to a tracking service over HTTP
type HTTPTracker struct {
	cfg    Config
	client *http.Client
	log    *logrus.Entry

	healthMu    sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// NewHTTPTracker creates a tracker for the service at cfg.Endpoint
func NewHTTPTracker(cfg Config, logger logrus.FieldLogger) *HTTPTracker {
	cfg = cfg.withDefaults()
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &HTTPTracker{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logging.Component(logger, "HTTPTracker"),
	}
}

func (t *HTTPTracker) Name() string {
	return string(KindHTTP)
}

// IsHealthy checks the service health endpoint, caching success for 30 seconds
func (t *HTTPTracker) IsHealthy(ctx context.Context) bool {
	t.healthMu.Lock()
	defer t.healthMu.Unlock()

	if t.healthy && time.Since(t.healthCheck) < healthCacheTTL {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.Endpoint+"/health", nil)
	if err != nil {
		t.healthy = false
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warnf("Health check failed: %v", err)
		t.healthy = false
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.log.Warnf("Health check returned status %d", resp.StatusCode)
		t.healthy = false
		return false
	}

	t.healthy = true
	t.healthCheck = time.Now()
	return true
}

// Observe sends the frame as multipart form data to /track
func (t *HTTPTracker) Observe(ctx context.Context, f *frame.Frame) ([]Observation, error) {
	imageData, err := f.JPEG(frame.DefaultJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}
	for _, field := range t.cfg.requestFields() {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint+"/track", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		t.markUnhealthy()
		return nil, fmt.Errorf("track request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("track failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode track response: %w", err)
	}

	obs := result.observations()
	t.log.Debugf("Frame %d: %d tracks, %d usable (%.1fms on %s)",
		f.Seq, len(result.Tracks), len(obs), result.InferenceTimeMs, result.Device)
	return obs, nil
}

func (t *HTTPTracker) markUnhealthy() {
	t.healthMu.Lock()
	t.healthy = false
	t.healthMu.Unlock()
}

// Close is a no-op; the HTTP client holds no per-tracker resources
func (t *HTTPTracker) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

var _ Tracker = (*HTTPTracker)(nil)
