// Package stream serves annotated frames as live MJPEG previews.
package stream

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// clientBuffer is the number of frames queued per viewer before frames are skipped
const clientBuffer = 5

// MJPEG is a sink that broadcasts every written frame to the connected
// HTTP viewers. Slow viewers miss frames; the writer never blocks.
type MJPEG struct {
	name    string
	quality int
	logger  *logrus.Entry

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	current []byte
	seq     uint64
	closed  bool
}

// NewMJPEG creates a preview stream. quality <= 0 uses frame.DefaultJPEGQuality.
func NewMJPEG(name string, quality int, logger logrus.FieldLogger) *MJPEG {
	return &MJPEG{
		name:    name,
		quality: quality,
		logger:  logging.Component(logger, "MJPEGStream").WithField("stream", name),
		clients: make(map[chan []byte]struct{}),
	}
}

func (s *MJPEG) Name() string {
	return s.name
}

// Write encodes the frame once and hands it to every viewer
func (s *MJPEG) Write(f *frame.Frame) error {
	data, err := f.JPEG(s.quality)
	if err != nil {
		return fmt.Errorf("encode preview frame %d: %w", f.Seq, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.current = data
	s.seq++
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip frame
		}
	}
	if s.seq%100 == 0 {
		s.logger.Debugf("Frame seq: %d, viewers: %d", s.seq, len(s.clients))
	}
	return nil
}

// Current returns the last written frame as JPEG, or nil
func (s *MJPEG) Current() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Clients returns the number of connected viewers
func (s *MJPEG) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every viewer. Later writes are ignored.
func (s *MJPEG) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
	return nil
}

func (s *MJPEG) subscribe() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	if s.current != nil {
		ch <- s.current
	}
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *MJPEG) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, ch)
}

// ServeHTTP streams frames as multipart/x-mixed-replace until the viewer
// disconnects or the stream is closed.
func (s *MJPEG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, fmt.Sprintf("Stream %s is closed", s.name), http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(clientCh)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Infof("Client connected from %s", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			s.logger.Infof("Client disconnected from %s", r.RemoteAddr)
			return
		case data, ok := <-clientCh:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			if _, err := w.Write(data); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// Manager routes preview and snapshot requests to named streams
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*MJPEG
	logger  logrus.FieldLogger
}

// NewManager creates an empty stream manager
func NewManager(logger logrus.FieldLogger) *Manager {
	return &Manager{
		streams: make(map[string]*MJPEG),
		logger:  logger,
	}
}

// Create registers a new preview stream under name
func (m *Manager) Create(name string, quality int) (*MJPEG, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[name]; exists {
		return nil, fmt.Errorf("stream already exists: %s", name)
	}
	s := NewMJPEG(name, quality, m.logger)
	m.streams[name] = s
	return s, nil
}

// Get returns the stream registered under name, or nil
func (m *Manager) Get(name string) *MJPEG {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[name]
}

// Names returns the registered stream names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	return names
}

// Close closes every registered stream
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.streams {
		if n := s.Clients(); n > 0 {
			s.logger.Infof("Closing preview with %d viewer(s)", n)
		}
		s.Close()
		delete(m.streams, name)
	}
	return nil
}

// ServeHTTP serves /preview/{name}
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	s.ServeHTTP(w, r)
}

// SnapshotHandler serves the last frame of /snapshot/{name} as a single JPEG
func (m *Manager) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.lookup(w, r)
		if !ok {
			return
		}
		data := s.Current()
		if data == nil {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.Write(data)
	})
}

func (m *Manager) lookup(w http.ResponseWriter, r *http.Request) (*MJPEG, bool) {
	name := r.PathValue("name")
	if name == "" {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return nil, false
		}
		name = parts[len(parts)-1]
	}
	s := m.Get(name)
	if s == nil {
		http.Error(w, fmt.Sprintf("Stream not found: %s", name), http.StatusNotFound)
		return nil, false
	}
	return s, true
}
