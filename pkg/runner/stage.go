package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsiopt/fsiopt/pkg/config"
)

// StagingError reports a failed filesystem operation while staging.
type StagingError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StagingError) Unwrap() error {
	return e.Err
}

// IsStagingError reports whether err is (or wraps) a StagingError.
func IsStagingError(err error) bool {
	var se *StagingError
	return errors.As(err, &se)
}

// StageDir is a freshly created stage working directory.
type StageDir struct {
	path string
}

// NewStageDir creates dir. It fails if dir already exists. Missing parents
// are created.
func NewStageDir(dir string) (*StageDir, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, &StagingError{Op: "mkdir", Path: filepath.Dir(dir), Err: err}
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, &StagingError{Op: "mkdir", Path: dir, Err: err}
	}
	return &StageDir{path: dir}, nil
}

// Path returns the directory, or name inside it when given.
func (s *StageDir) Path(name ...string) string {
	return filepath.Join(append([]string{s.path}, name...)...)
}

// Copy copies src into the directory under its base name.
func (s *StageDir) Copy(src string) error {
	return s.CopyAs(src, filepath.Base(src))
}

// CopyAs copies src into the directory as name.
func (s *StageDir) CopyAs(src, name string) error {
	dst := s.Path(name)
	if err := copyFile(src, dst); err != nil {
		return &StagingError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

// Link creates a symlink name inside the directory pointing at target.
// Relative targets are made absolute first.
func (s *StageDir) Link(target, name string) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return &StagingError{Op: "link", Path: target, Err: err}
	}
	if _, err := os.Stat(abs); err != nil {
		return &StagingError{Op: "link", Path: target, Err: err}
	}
	if err := os.Symlink(abs, s.Path(name)); err != nil {
		return &StagingError{Op: "link", Path: target, Err: err}
	}
	return nil
}

// RewriteConfig copies the key=value config src into the directory under
// its base name, replacing the given keys. It returns the staged name.
func (s *StageDir) RewriteConfig(src string, overrides map[string]string) (string, error) {
	name := filepath.Base(src)
	if err := config.Rewrite(src, s.Path(name), overrides); err != nil {
		return "", &StagingError{Op: "rewrite", Path: src, Err: err}
	}
	return name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
