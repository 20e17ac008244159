package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fsiopt/fsiopt/pkg/runner"
)

// Runner runs solvers on a remote host. Each staged directory is
// mirrored to WorkDir/<design>/<stage>, the solver runs there, and every
// file it creates is copied back before Run returns.
type Runner struct {
	client  *Client
	workDir string

	// Stdout, when set, also receives solver output.
	Stdout io.Writer
}

var _ runner.Runner = (*Runner)(nil)

// NewRunner creates a remote runner. The connection is opened on first use.
func NewRunner(cfg *Config) (*Runner, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{client: client, workDir: cfg.WorkDir}, nil
}

// Run mirrors inv.Dir to the remote host, runs the solver and copies its
// outputs back. The solver log is written locally as with a local run.
func (r *Runner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	if inv.Command == "" {
		return nil, fmt.Errorf("solver %s: command is required", inv.Name)
	}

	if err := r.client.Connect(ctx); err != nil {
		return nil, err
	}

	sc, err := r.client.SFTP()
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	remoteDir := RemoteDir(r.workDir, inv.Dir)
	// Leftovers of an earlier run in the same work directory.
	if err := removeRemote(sc, remoteDir); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to clear %s: %w", remoteDir, err)}
	}

	uploaded, err := uploadDir(ctx, sc, inv.Dir, remoteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stage solver %s remotely: %w", inv.Name, err)
	}

	logPath := filepath.Join(inv.Dir, inv.Name+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create solver log: %w", err)
	}
	defer logFile.Close()

	var out io.Writer = logFile
	if r.Stdout != nil {
		out = io.MultiWriter(logFile, r.Stdout)
	}

	cmdline := CommandLine(remoteDir, inv)
	log.Info().
		Str("solver", inv.Name).
		Str("host", r.client.config.Host).
		Str("dir", remoteDir).
		Msg("Running solver remotely")

	start := time.Now()
	code, err := r.client.Run(ctx, cmdline, out)
	if err != nil {
		return nil, fmt.Errorf("failed to execute solver %s: %w", inv.Name, err)
	}
	result := &runner.Result{
		ExitCode: code,
		Duration: time.Since(start),
		LogPath:  logPath,
	}

	// Outputs of failed runs are fetched too; they explain the failure.
	n, err := downloadNew(ctx, sc, remoteDir, inv.Dir, uploaded)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outputs of solver %s: %w", inv.Name, err)
	}
	log.Debug().Str("solver", inv.Name).Int("files", n).Msg("Solver outputs fetched")

	if code != 0 {
		return result, &runner.ExitError{Name: inv.Name, Code: code, LogPath: logPath}
	}
	return result, nil
}

// Close closes the SSH connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// RemoteDir maps a local stage directory such as .../DESIGNS/DSN_003/Primal
// to workDir/DSN_003/Primal.
func RemoteDir(workDir, localDir string) string {
	localDir = filepath.Clean(localDir)
	return path.Join(workDir, filepath.Base(filepath.Dir(localDir)), filepath.Base(localDir))
}

// CommandLine builds the shell command that runs inv inside dir.
func CommandLine(dir string, inv runner.Invocation) string {
	var b strings.Builder
	b.WriteString("cd ")
	b.WriteString(shellQuote(dir))
	b.WriteString(" && ")

	if len(inv.Env) > 0 {
		keys := make([]string, 0, len(inv.Env))
		for k := range inv.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("env")
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(shellQuote(k + "=" + inv.Env[k]))
		}
		b.WriteByte(' ')
	}

	b.WriteString(shellQuote(inv.Command))
	for _, a := range inv.Args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(a))
	}
	return b.String()
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./=:,+@%-]+$`)

func shellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
