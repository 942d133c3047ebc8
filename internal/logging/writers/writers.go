// Package writers opens the destinations log output can be sent to.
package writers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the type of a log destination.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindStderr Kind = "stderr"
	KindFile   Kind = "file"
)

// ErrUnsupportedOutput reports an output specification that names no
// known destination.
var ErrUnsupportedOutput = errors.New("unsupported log output")

const fileScheme = "file://"

// Parse splits an output specification into its kind and, for files, the
// path. Supported forms:
//   - "" or "stdout"
//   - "stderr"
//   - "file:///path/to/file" or "file:relative/path"
//   - any string containing a path separator
func Parse(output string) (Kind, string, error) {
	switch {
	case output == "" || output == "stdout":
		return KindStdout, "", nil
	case output == "stderr":
		return KindStderr, "", nil
	case strings.HasPrefix(output, fileScheme):
		return filePath(strings.TrimPrefix(output, fileScheme))
	case strings.HasPrefix(output, "file:"):
		return filePath(strings.TrimPrefix(output, "file:"))
	case strings.Contains(output, "://"):
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedOutput, output)
	case strings.ContainsAny(output, `/\`):
		return filePath(output)
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedOutput, output)
	}
}

func filePath(path string) (Kind, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("%w: empty file path", ErrUnsupportedOutput)
	}
	return KindFile, path, nil
}

// Validate reports whether output can be parsed.
func Validate(output string) error {
	_, _, err := Parse(output)
	return err
}

// Open returns a writer for output. Closing it closes files and leaves the
// standard streams open.
func Open(output string) (io.WriteCloser, error) {
	kind, path, err := Parse(output)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStderr:
		return nopCloser{os.Stderr}, nil
	case KindFile:
		return openFile(path)
	default:
		return nopCloser{os.Stdout}, nil
	}
}

// openFile appends to path, creating it and its directory as needed.
func openFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return file, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
