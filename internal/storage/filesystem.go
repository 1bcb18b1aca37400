package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/pkg/logger"
)

// FilesystemStore writes avatars below the directory served as static files.
type FilesystemStore struct {
	publicDir string
	dir       string
	log       *zap.Logger
}

// NewFilesystemStore stores files in publicDir/dir, which is created if missing. Files are
// addressed as /dir/<name>.
func NewFilesystemStore(publicDir, dir string) (*FilesystemStore, error) {
	dir = strings.Trim(path.Clean("/"+filepath.ToSlash(dir)), "/")
	if dir == "" {
		return nil, errors.New("storage: upload dir is required")
	}
	if err := os.MkdirAll(filepath.Join(publicDir, filepath.FromSlash(dir)), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload dir: %w", err)
	}
	return &FilesystemStore{publicDir: publicDir, dir: dir, log: logger.WithModule("storage")}, nil
}

// Save writes body to a new file named name.
func (s *FilesystemStore) Save(_ context.Context, name, _ string, body io.Reader, _ int64) (string, error) {
	name = filepath.Base(name)
	target := filepath.Join(s.publicDir, filepath.FromSlash(s.dir), name)

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}

	return "/" + s.dir + "/" + name, nil
}

// Delete removes the file behind location when it lives in this store.
func (s *FilesystemStore) Delete(_ context.Context, location string) error {
	prefix := "/" + s.dir + "/"
	if !strings.HasPrefix(location, prefix) {
		return nil
	}
	name := path.Base(strings.TrimPrefix(location, prefix))
	if name == "." || name == "/" {
		return nil
	}

	err := os.Remove(filepath.Join(s.publicDir, filepath.FromSlash(s.dir), name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}
