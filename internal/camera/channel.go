// Package camera captures live frames from camera devices through ffmpeg
// and records them.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// ErrClosed is returned by a channel that was stopped on request
var ErrClosed = errors.New("camera channel closed")

// ChannelConfig describes one stream of a camera device
type ChannelConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Device      string `yaml:"device" validate:"required"` // Device node, rtsp:// or http(s):// URL
	Width       int    `yaml:"width" validate:"gte=0"`
	Height      int    `yaml:"height" validate:"gte=0"`
	FPS         int    `yaml:"fps" validate:"gte=0"`
	Gray        bool   `yaml:"gray"`         // Deliver 8-bit grayscale frames
	QueueSize   int    `yaml:"queue_size"`   // Frames buffered before the oldest is dropped
	InputFormat string `yaml:"input_format"` // ffmpeg demuxer for device nodes, default v4l2
	FFmpegPath  string `yaml:"ffmpeg_path"`
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	Channel        string
	FramesCaptured uint64
	FramesDropped  uint64
	DecodeErrors   uint64
	LastFrameTime  time.Time
}

// Channel runs one ffmpeg capture process and buffers its decoded frames.
// It implements the pipeline frame source interface.
type Channel struct {
	cfg   ChannelConfig
	queue *FrameQueue
	log   *logrus.Entry

	seq          atomic.Uint64
	decodeErrors atomic.Uint64
	lastFrame    atomic.Int64

	// Size of the first decoded frame
	firstOnce sync.Once
	first     chan struct{}
	width     atomic.Int64
	height    atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

// NewChannel creates a channel; capture starts with Run
func NewChannel(cfg ChannelConfig, logger logrus.FieldLogger) *Channel {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Channel{
		cfg:   cfg,
		queue: NewFrameQueue(cfg.QueueSize),
		first: make(chan struct{}),
		done:  make(chan struct{}),
		log:   logging.Component(logger, "Camera").WithField("channel", cfg.Name),
	}
}

func (c *Channel) Name() string {
	return c.cfg.Name
}

// Info returns the frame size and rate. Without a configured size the
// size of the first decoded frame is reported, zero before it arrives.
func (c *Channel) Info() frame.Info {
	info := frame.Info{Width: c.cfg.Width, Height: c.cfg.Height, FPS: float64(c.cfg.FPS)}
	if info.Width <= 0 || info.Height <= 0 {
		info.Width, info.Height = int(c.width.Load()), int(c.height.Load())
	}
	return info
}

// WaitInfo waits for the first frame and returns Info. It fails when
// capture ends before any frame was decoded.
func (c *Channel) WaitInfo(ctx context.Context) (frame.Info, error) {
	select {
	case <-c.first:
		return c.Info(), nil
	case <-ctx.Done():
		return frame.Info{}, ctx.Err()
	case <-c.done:
		select {
		case <-c.first:
			return c.Info(), nil
		default:
		}
		return frame.Info{}, fmt.Errorf("channel %s: no frame received: %w", c.cfg.Name, c.Err())
	}
}

func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// IsDevice reports whether input names a camera device node or a network
// stream rather than a video file.
func IsDevice(input string) bool {
	return isNetworkSource(input) || strings.HasPrefix(input, "/dev/")
}

// deviceExists checks that a device node can be opened for reading.
// Network sources are checked when capture starts.
func deviceExists(device string) bool {
	if isNetworkSource(device) {
		return true
	}
	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ffmpegArgs builds the command line that writes an MJPEG stream to stdout
func (c *Channel) ffmpegArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case strings.HasPrefix(c.cfg.Device, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp", "-i", c.cfg.Device, "-r", fmt.Sprintf("%d", c.cfg.FPS))
	case isNetworkSource(c.cfg.Device):
		args = append(args, "-i", c.cfg.Device, "-r", fmt.Sprintf("%d", c.cfg.FPS))
	default:
		args = append(args, "-f", c.cfg.InputFormat)
		if c.cfg.Width > 0 && c.cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", c.cfg.FPS), "-i", c.cfg.Device)
	}
	// Devices and streams may ignore the requested size
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", c.cfg.Width, c.cfg.Height))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

// Run captures until ctx is done or ffmpeg exits. It returns nil when
// stopped through ctx or Close, and the capture error otherwise.
func (c *Channel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil
	default:
	}
	c.cancel = cancel
	c.mu.Unlock()

	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, c.ffmpegArgs()...)
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		err = fmt.Errorf("channel %s: stdout pipe: %w", c.cfg.Name, err)
		c.finish(err)
		return err
	}
	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("channel %s: start ffmpeg: %w", c.cfg.Name, err)
		c.finish(err)
		return err
	}

	c.log.Infof("Started capture from %s (%dx%d @ %dfps)", c.cfg.Device, c.cfg.Width, c.cfg.Height, c.cfg.FPS)

	readErr := c.consume(stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		c.log.Infof("Stopped capture after %d frames", c.seq.Load())
		c.finish(ErrClosed)
		return nil
	}

	cause := waitErr
	if cause == nil {
		cause = readErr
	}
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	err = fmt.Errorf("channel %s: capture from %s stopped: %w", c.cfg.Name, c.cfg.Device, cause)
	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		err = fmt.Errorf("%w (ffmpeg: %s)", err, tail)
	}
	c.log.Error(err)
	c.finish(err)
	return err
}

// consume splits the MJPEG stream into frames and queues them
func (c *Channel) consume(r io.Reader) error {
	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 64*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				data := extractJPEGFrame(&frameBuffer)
				if data == nil {
					break
				}
				c.push(data)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (c *Channel) push(data []byte) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		if c.decodeErrors.Add(1)%100 == 1 {
			c.log.Warnf("Dropping undecodable frame: %v", err)
		}
		return
	}

	f := frame.New(c.cfg.Name, c.seq.Add(1), img)
	if c.cfg.Gray {
		f.Image = frame.Gray(img)
	} else {
		f.Data = data
	}
	c.lastFrame.Store(f.Timestamp.UnixNano())
	c.firstOnce.Do(func() {
		c.width.Store(int64(f.Width))
		c.height.Store(int64(f.Height))
		close(c.first)
	})

	if c.queue.Push(f) && c.queue.Dropped()%100 == 1 {
		c.log.Warnf("Queue full, dropping oldest frames (%d dropped so far)", c.queue.Dropped())
	}
}

func (c *Channel) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// TryRead returns the oldest buffered frame without blocking
func (c *Channel) TryRead() (*frame.Frame, bool) {
	return c.queue.TryPop()
}

// Next waits for a frame. Once capture has ended and the buffer is drained
// it returns the capture error, or io.EOF after a requested stop.
func (c *Channel) Next(ctx context.Context) (*frame.Frame, error) {
	for {
		if f, ok := c.queue.TryPop(); ok {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			if f, ok := c.queue.TryPop(); ok {
				return f, nil
			}
			if err := c.Err(); !errors.Is(err, ErrClosed) {
				return nil, err
			}
			return nil, io.EOF
		case <-c.queue.Ready():
		}
	}
}

// Err returns the terminal error once capture has ended, nil while running
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when capture has ended
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops capture and waits for the ffmpeg process to exit
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		c.finish(ErrClosed)
		return nil
	}
	cancel()
	<-c.done
	return nil
}

// Stats returns capture statistics
func (c *Channel) Stats() CaptureStats {
	stats := CaptureStats{
		Channel:        c.cfg.Name,
		FramesCaptured: c.seq.Load(),
		FramesDropped:  c.queue.Dropped(),
		DecodeErrors:   c.decodeErrors.Load(),
	}
	if ns := c.lastFrame.Load(); ns != 0 {
		stats.LastFrameTime = time.Unix(0, ns)
	}
	return stats
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := bytes.Index(buf, []byte{0xFF, 0xD8})
	if start == -1 {
		// Keep a trailing 0xFF, it may start the next marker.
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}
	end += start + 4

	out := make([]byte, end-start)
	copy(out, buf[start:end])
	*buffer = append(buf[:0], buf[end:]...)
	return out
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
