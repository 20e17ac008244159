package ssh

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// uploadDir copies the files of localDir into remoteDir. Symlinks are
// followed, so linked meshes arrive as regular files. It returns the
// slash-separated relative paths it uploaded.
func uploadDir(ctx context.Context, sc *sftp.Client, localDir, remoteDir string) (map[string]bool, error) {
	if err := sc.MkdirAll(remoteDir); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create %s: %w", remoteDir, err)}
	}

	uploaded := make(map[string]bool)
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil || rel == "." {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			return sc.MkdirAll(target)
		}

		if err := uploadFile(ctx, sc, p, target, info.Mode().Perm()); err != nil {
			return err
		}
		uploaded[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uploaded, nil
}

func uploadFile(ctx context.Context, sc *sftp.Client, localPath, remotePath string, mode fs.FileMode) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer localFile.Close()

	remoteFile, err := sc.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	defer remoteFile.Close()

	n, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to copy %s: %w", localPath, err), IsTemporary: true}
	}
	if err := sc.Chmod(remotePath, mode); err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
	}

	log.Debug().Str("local", localPath).Str("remote", remotePath).Int64("bytes", n).Msg("file uploaded")
	return nil
}

// downloadNew copies every remote file that is not in skip back into
// localDir. It returns the number of files downloaded.
func downloadNew(ctx context.Context, sc *sftp.Client, remoteDir, localDir string, skip map[string]bool) (int, error) {
	count := 0
	walker := sc.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return count, &TransportError{Op: "download", Err: fmt.Errorf("failed to walk remote directory: %w", err), IsTemporary: true}
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		rel, err := relSlash(remoteDir, walker.Path())
		if err != nil || rel == "." {
			continue
		}
		target := filepath.Join(localDir, filepath.FromSlash(rel))

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}
		if skip[rel] {
			continue
		}
		if err := downloadFile(ctx, sc, walker.Path(), target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func downloadFile(ctx context.Context, sc *sftp.Client, remotePath, localPath string) error {
	remoteFile, err := sc.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to open remote file: %w", err), IsTemporary: true}
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to create local file: %w", err)}
	}
	defer localFile.Close()

	n, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to copy %s: %w", remotePath, err), IsTemporary: true}
	}

	log.Debug().Str("remote", remotePath).Str("local", localPath).Int64("bytes", n).Msg("file downloaded")
	return nil
}

// removeRemote deletes dir and everything below it. A missing dir is
// not an error.
func removeRemote(sc *sftp.Client, dir string) error {
	if _, err := sc.Lstat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var files, dirs []string
	walker := sc.Walk(dir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		if walker.Stat().IsDir() {
			dirs = append(dirs, walker.Path())
		} else {
			files = append(files, walker.Path())
		}
	}
	for _, f := range files {
		if err := sc.Remove(f); err != nil {
			return err
		}
	}
	// Walk visits parents first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := sc.RemoveDirectory(dirs[i]); err != nil {
			return err
		}
	}
	return nil
}

// relSlash is filepath.Rel for remote, slash-separated paths.
func relSlash(base, target string) (string, error) {
	rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(target))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
