package ssh

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsiopt/fsiopt/pkg/runner"
)

// newLocalSFTP serves the local filesystem over an in-process pipe.
func newLocalSFTP(t *testing.T) *sftp.Client {
	t.Helper()

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverIn, serverOut})
	require.NoError(t, err)
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientIn, clientOut)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return client
}

func TestRemoteDir(t *testing.T) {
	assert.Equal(t, "/scratch/run/DSN_003/Primal", RemoteDir("/scratch/run", "/case/DESIGNS/DSN_003/Primal"))
	assert.Equal(t, "fsiopt/DSN_000/DEFORM", RemoteDir("fsiopt", "/case/DESIGNS/DSN_000/DEFORM/"))
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name string
		inv  runner.Invocation
		want string
	}{
		{
			name: "plain",
			inv:  runner.Invocation{Command: "SU2_DEF", Args: []string{"deform.cfg"}},
			want: "cd fsiopt/DSN_001/DEFORM && SU2_DEF deform.cfg",
		},
		{
			name: "env sorted",
			inv: runner.Invocation{
				Command: "mpirun",
				Args:    []string{"-n", "4", "fsi_computation.py", "-f", "fsi_primal.cfg"},
				Env:     map[string]string{"OMP_NUM_THREADS": "1", "A": "x y"},
			},
			want: "cd fsiopt/DSN_001/DEFORM && env 'A=x y' OMP_NUM_THREADS=1 mpirun -n 4 fsi_computation.py -f fsi_primal.cfg",
		},
		{
			name: "quoting",
			inv:  runner.Invocation{Command: "run it", Args: []string{"it's", ""}},
			want: `cd fsiopt/DSN_001/DEFORM && 'run it' 'it'\''s' ''`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommandLine("fsiopt/DSN_001/DEFORM", tt.inv))
		})
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&TransportError{Op: "connect", Err: cause, IsTemporary: true})

	assert.Equal(t, "ssh connect: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.IsTemporary)
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	_, err := NewRunner(DefaultConfig("", "fsi"))
	assert.Error(t, err)
}

func TestRunnerRequiresCommand(t *testing.T) {
	cfg := DefaultConfig("example.com", "fsi")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	r, err := NewRunner(cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), runner.Invocation{Name: "primal", Dir: t.TempDir()})
	assert.ErrorContains(t, err, "command is required")
	assert.False(t, r.client.IsConnected())
	assert.NoError(t, r.Close())
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	sc := newLocalSFTP(t)
	ctx := context.Background()

	// A staged directory with a config and a linked mesh.
	folder := t.TempDir()
	mesh := filepath.Join(folder, "mesh.su2")
	require.NoError(t, os.WriteFile(mesh, []byte("NDIME= 2\n"), 0644))

	local := filepath.Join(folder, "DESIGNS", "DSN_000", "Primal")
	require.NoError(t, os.MkdirAll(local, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "fsi_primal.cfg"), []byte("NDIM = 2\n"), 0644))
	require.NoError(t, os.Symlink(mesh, filepath.Join(local, "mesh.su2")))

	remote := filepath.ToSlash(RemoteDir(filepath.Join(t.TempDir(), "work"), local))

	uploaded, err := uploadDir(ctx, sc, local, remote)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"fsi_primal.cfg": true, "mesh.su2": true}, uploaded)

	info, err := os.Lstat(filepath.Join(remote, "mesh.su2"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular(), "links arrive as regular files")
	data, err := os.ReadFile(filepath.Join(remote, "mesh.su2"))
	require.NoError(t, err)
	assert.Equal(t, "NDIME= 2\n", string(data))

	// The solver writes outputs, one of them in a subdirectory.
	require.NoError(t, os.WriteFile(filepath.Join(remote, "Objectives.dat"), []byte("DRAG\n0.25\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(remote, "history"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(remote, "history", "iter.csv"), []byte("1\n"), 0644))

	n, err := downloadNew(ctx, sc, remote, local, uploaded)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err = os.ReadFile(filepath.Join(local, "Objectives.dat"))
	require.NoError(t, err)
	assert.Equal(t, "DRAG\n0.25\n", string(data))
	assert.FileExists(t, filepath.Join(local, "history", "iter.csv"))

	// Inputs were not copied back over the link.
	info, err = os.Lstat(filepath.Join(local, "mesh.su2"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	require.NoError(t, removeRemote(sc, remote))
	assert.NoDirExists(t, remote)
	assert.NoError(t, removeRemote(sc, remote), "removing a missing directory is not an error")
}

func TestCopyWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytesWriter
	_, err := copyWithContext(ctx, &dst, io.LimitReader(zeroReader{}, 1024))
	assert.ErrorIs(t, err, context.Canceled)
}

type bytesWriter struct{ n int }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
