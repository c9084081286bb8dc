// Package fsutil picks output file names that do not clobber earlier runs.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NextFilename returns the first of base1ext, base2ext, ... that does not
// exist yet. ext includes the dot.
func NextFilename(base, ext string) (string, error) {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d%s", base, i, ext)
		free, err := isFree(name)
		if err != nil {
			return "", err
		}
		if free {
			return name, nil
		}
	}
}

// Available returns path unchanged when nothing exists there. Otherwise the
// number is placed between stem and extension: out.mp4 -> out1.mp4, out2.mp4, ...
func Available(path string) (string, error) {
	free, err := isFree(path)
	if err != nil {
		return "", err
	}
	if free {
		return path, nil
	}
	ext := filepath.Ext(path)
	return NextFilename(strings.TrimSuffix(path, ext), ext)
}

func isFree(name string) (bool, error) {
	_, err := os.Stat(name)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	default:
		return false, fmt.Errorf("check %s: %w", name, err)
	}
}
