// Package rules loads the free-text rules document injected into prompts in
// retrieval-augmented mode.
package rules

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// DefaultPath is the rules document location relative to the working directory.
const DefaultPath = "rag/rules.txt"

// Sentinel returns the text injected in place of the rules when they cannot
// be read.
func Sentinel(reason error) string {
	return fmt.Sprintf("[Rules could not be loaded: %v]", reason)
}

// FileLoader implements ports.RulesLoader over a file on disk.
//
// The file is read on every enabled Load so edits apply to the next batch.
// Concurrent loads share one read.
type FileLoader struct {
	path     string
	readFile func(string) ([]byte, error)
	logger   *zap.Logger
	group    singleflight.Group
}

var _ ports.RulesLoader = (*FileLoader)(nil)

// NewFileLoader creates a loader for path. An empty path uses DefaultPath and
// a nil logger discards warnings.
func NewFileLoader(path string, logger *zap.Logger) *FileLoader {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLoader{
		path:     path,
		readFile: os.ReadFile,
		logger:   logger,
	}
}

// Path returns the document location.
func (l *FileLoader) Path() string { return l.path }

// Load returns nil when disabled. When enabled it returns the document text,
// or Sentinel describing the failure. A canceled ctx is treated as a failure.
func (l *FileLoader) Load(ctx context.Context, enabled bool) *string {
	if !enabled {
		return nil
	}

	text, err := l.read(ctx)
	if err != nil {
		loadErr := &domain.RulesLoadError{Path: l.path, Err: err}
		l.logger.Warn("rules document unavailable, continuing with sentinel",
			zap.String("path", l.path),
			zap.Error(loadErr))
		sentinel := Sentinel(err)
		return &sentinel
	}
	return &text
}

func (l *FileLoader) read(ctx context.Context) (string, error) {
	ch := l.group.DoChan(l.path, func() (any, error) {
		data, err := l.readFile(l.path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
