// Package local implements the media store on the local filesystem for
// development and tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

type Store struct {
	root    string
	cdnBase string
}

func New(root, cdnBase string) (*Store, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs, cdnBase: strings.TrimRight(cdnBase, "/")}, nil
}

// resolve maps an object path to a file under root, rejecting escapes.
func (s *Store) resolve(objectPath string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	full := filepath.Join(s.root, clean)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("object path %q escapes storage root", objectPath))
	}
	return full, nil
}

func (s *Store) GetObject(_ context.Context, objectPath string) ([]byte, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("object %s not found", objectPath))
	}
	return data, err
}

func (s *Store) UploadFile(ctx context.Context, content io.Reader, objectPath, _ string) (string, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(ctx, full, content); err != nil {
		return "", err
	}
	return s.CDNURL(objectPath), nil
}

func (s *Store) DownloadFileToPath(ctx context.Context, objectPath, localPath string) (bool, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return false, err
	}
	src, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer src.Close()

	if err := writeAtomic(ctx, localPath, src); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CDNURL(objectPath string) string {
	return s.cdnBase + "/" + strings.TrimLeft(filepath.ToSlash(objectPath), "/")
}

func (s *Store) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, strings.TrimLeft(prefix, "/")) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func writeAtomic(ctx context.Context, dest string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dest, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
