package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	logger, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger, err = New(Options{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestComponentPrefix(t *testing.T) {
	logger, err := New(Options{NoColors: true})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	Component(logger, "Counter").Info("crossing counted")
	assert.Contains(t, buf.String(), "[Counter]")
	assert.Contains(t, buf.String(), "crossing counted")
}

func TestComponentNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Component(nil, "Tracker").Warn("dropped")
	})
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New(Options{File: path})
	require.NoError(t, err)
	logger.Info("hello")
	assert.FileExists(t, path)
}
