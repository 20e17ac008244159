package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "SU2_DEF", s.Solvers.Deform.Command)
	assert.Equal(t, []string{"-f", ConfigPlaceholder}, s.Solvers.Primal.Args)
	assert.Equal(t, "fsiopt.db", s.Store.Path)
	assert.Equal(t, "info", s.Logging.Level)
	assert.False(t, s.Tracing.Enabled)
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fsiopt.yaml", `
solvers:
  primal:
    command: mpirun
    args: ["-n", "4", "fsi_computation.py", "-f", "{config}", "--parallel"]
    env:
      OMP_NUM_THREADS: "1"
logging:
  level: debug
metrics:
  address: ":9090"
`)

	t.Setenv("FSIOPT_LOGGING_LEVEL", "warn")
	t.Setenv("FSIOPT_SOLVERS_ADJOINT_COMMAND", "my_adjoint")
	t.Setenv("FSIOPT_STORE_PATH", "/tmp/history.db")

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "mpirun", s.Solvers.Primal.Command)
	assert.Equal(t, "1", s.Solvers.Primal.Env["OMP_NUM_THREADS"])
	assert.Equal(t, "my_adjoint", s.Solvers.Adjoint.Command)
	assert.Equal(t, []string{"-f", ConfigPlaceholder}, s.Solvers.Adjoint.Args, "defaults survive partial override")
	assert.Equal(t, "warn", s.Logging.Level, "environment beats file")
	assert.Equal(t, "/tmp/history.db", s.Store.Path)
	assert.Equal(t, ":9090", s.Metrics.Address)
	assert.Equal(t, "SU2_GEO", s.Solvers.Geo.Command)
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := LoadSettings("/nonexistent/fsiopt.yaml")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "logging.level", envKey("FSIOPT_LOGGING_LEVEL"))
	assert.Equal(t, "tracing.sampling_rate", envKey("FSIOPT_TRACING_SAMPLING_RATE"))
	assert.Equal(t, "solvers.primal.command", envKey("FSIOPT_SOLVERS_PRIMAL_COMMAND"))
	assert.Equal(t, "store", envKey("FSIOPT_STORE"))
}

func TestSolverCommand_ExpandArgs(t *testing.T) {
	c := SolverCommand{Command: "SU2_DEF", Args: []string{"{config}", "--log={config}.log"}}
	assert.Equal(t, []string{"def.cfg", "--log=def.cfg.log"}, c.ExpandArgs("def.cfg"))

	s := DefaultSettings().Solvers
	geo, err := s.Command("GEO")
	require.NoError(t, err)
	assert.Equal(t, "SU2_GEO", geo.Command)

	_, err = s.Command("mesh")
	assert.Error(t, err)
}

func TestLoadSettings_Remote(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Empty(t, s.Remote.Host, "solvers run locally by default")
	assert.Equal(t, 22, s.Remote.Port)

	path := writeFile(t, t.TempDir(), "fsiopt.yaml", `
remote:
  host: cluster.example.org
  user: fsi
  key_path: /home/fsi/.ssh/id_ed25519
`)
	t.Setenv("FSIOPT_REMOTE_WORK_DIR", "/scratch/fsi/run1")

	s, err = LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "cluster.example.org", s.Remote.Host)
	assert.Equal(t, "fsi", s.Remote.User)
	assert.Equal(t, 22, s.Remote.Port)
	assert.Equal(t, "/scratch/fsi/run1", s.Remote.WorkDir)
}
