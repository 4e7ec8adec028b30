// Package storage serves raw document files from a local directory tree laid
// out as <root>/<bucket>/<path>.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"
)

var (
	// ErrFileNotFound is returned when no file exists at the requested path.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for bucket or path values that escape the root.
	ErrInvalidPath = errors.New("invalid file path")
)

// FilesystemStore reads and writes raw files below a root directory.
type FilesystemStore struct {
	root        string
	retryConfig retry.Config
	logger      *zap.Logger
}

// NewFilesystemStore creates a store rooted at root. Reads are retried to
// ride out transient I/O errors on network mounts.
func NewFilesystemStore(root string, logger *zap.Logger) (*FilesystemStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemStore{
		root: abs,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		logger: logger,
	}, nil
}

// Root returns the absolute storage root.
func (s *FilesystemStore) Root() string {
	return s.root
}

// ResolvePath maps a bucket and object path to a file below the root and
// rejects anything that would leave the bucket directory.
func (s *FilesystemStore) ResolvePath(bucket, path string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidPath, bucket)
	}
	if strings.TrimSpace(path) == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	bucketDir := filepath.Join(s.root, bucket)
	full := filepath.Clean(filepath.Join(bucketDir, filepath.FromSlash(path)))
	if !strings.HasPrefix(full, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return full, nil
}

// DownloadRawFile returns the bytes stored at bucket/path.
func (s *FilesystemStore) DownloadRawFile(ctx context.Context, bucket, path string) ([]byte, error) {
	full, err := s.ResolvePath(bucket, path)
	if err != nil {
		return nil, err
	}

	// A missing file is final; only other read errors are retried.
	var (
		mu      sync.Mutex
		missing bool
	)
	retryer := retry.New[[]byte](s.retryConfig)
	data, err := retryer.Do(ctx, func(ctx context.Context) ([]byte, error) {
		// #nosec G304 -- path is resolved and validated via ResolvePath
		data, err := os.ReadFile(full)
		if errors.Is(err, fs.ErrNotExist) {
			mu.Lock()
			missing = true
			mu.Unlock()
			return nil, nil
		}
		if err != nil {
			s.logger.Debug("raw file read failed", zap.String("path", full), zap.Error(err))
			return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, path, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if missing {
		return nil, fmt.Errorf("%s/%s: %w", bucket, path, ErrFileNotFound)
	}
	return data, nil
}

// UploadRawFile stores data at bucket/path, creating directories as needed.
func (s *FilesystemStore) UploadRawFile(_ context.Context, bucket, path string, data []byte) error {
	full, err := s.ResolvePath(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, path, err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, path, err)
	}
	return nil
}
