package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// maxReplayLine bounds a single JSON line of a replay file
const maxReplayLine = 4 * 1024 * 1024

// ReplayTracker serves previously recorded track documents, one JSON line
// per frame. Blank lines are frames without tracks. Once the file is
// exhausted every frame yields no tracks.
type ReplayTracker struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int
	done    bool
	mu      sync.Mutex
	log     *logrus.Entry
}

// NewReplayTracker opens the replay file at path
func NewReplayTracker(path string, logger logrus.FieldLogger) (*ReplayTracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	return &ReplayTracker{
		path:    path,
		file:    f,
		scanner: scanner,
		log:     logging.Component(logger, "ReplayTracker"),
	}, nil
}

func (t *ReplayTracker) Name() string {
	return string(KindReplay)
}

func (t *ReplayTracker) IsHealthy(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file != nil
}

// Observe returns the tracks recorded for the next line of the file. The
// frame itself is not inspected.
func (t *ReplayTracker) Observe(ctx context.Context, f *frame.Frame) ([]Observation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil, fmt.Errorf("replay %s: tracker closed", t.path)
	}
	if t.done {
		return []Observation{}, nil
	}
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, fmt.Errorf("replay %s line %d: %w", t.path, t.line+1, err)
		}
		t.done = true
		t.log.Infof("Replay file exhausted after %d lines", t.line)
		return []Observation{}, nil
	}
	t.line++

	text := strings.TrimSpace(t.scanner.Text())
	if text == "" {
		return []Observation{}, nil
	}
	var result trackResponse
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("replay %s line %d: %w", t.path, t.line, err)
	}
	return result.observations(), nil
}

func (t *ReplayTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

var _ Tracker = (*ReplayTracker)(nil)
