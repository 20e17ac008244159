package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment variables that override tool settings.
const EnvPrefix = "FSIOPT_"

// ConfigPlaceholder in solver arguments expands to the staged config file.
const ConfigPlaceholder = "{config}"

// SolverCommand describes how to launch one external solver.
type SolverCommand struct {
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Env     map[string]string `koanf:"env"`
}

// SolverSettings holds the command for each stage.
type SolverSettings struct {
	Deform  SolverCommand `koanf:"deform"`
	Primal  SolverCommand `koanf:"primal"`
	Adjoint SolverCommand `koanf:"adjoint"`
	Geo     SolverCommand `koanf:"geo"`
}

// StoreSettings configures the design history database.
type StoreSettings struct {
	// Path of the SQLite database. Relative paths are resolved against
	// the optimization folder. Empty disables persistence.
	Path string `koanf:"path"`
}

// RemoteSettings sends solver runs to another host over SSH. An empty
// Host runs solvers locally.
type RemoteSettings struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	User       string `koanf:"user"`
	KeyPath    string `koanf:"key_path"`
	Password   string `koanf:"password"`
	KnownHosts string `koanf:"known_hosts"`
	// InsecureHostKey skips host key verification.
	InsecureHostKey bool `koanf:"insecure_host_key"`
	// WorkDir is the remote directory that mirrors DESIGNS.
	WorkDir string `koanf:"work_dir"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// TraceSettings configures OpenTelemetry tracing.
type TraceSettings struct {
	Enabled      bool    `koanf:"enabled"`
	Exporter     string  `koanf:"exporter"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Address string `koanf:"address"`
}

// Settings are the fsiopt tool settings.
type Settings struct {
	Solvers SolverSettings  `koanf:"solvers"`
	Store   StoreSettings   `koanf:"store"`
	Remote  RemoteSettings  `koanf:"remote"`
	Logging LogSettings     `koanf:"logging"`
	Tracing TraceSettings   `koanf:"tracing"`
	Metrics MetricsSettings `koanf:"metrics"`
}

// DefaultSettings returns settings that invoke the SU2 tools and the FSI
// python drivers found on PATH.
func DefaultSettings() *Settings {
	return &Settings{
		Solvers: SolverSettings{
			Deform:  SolverCommand{Command: "SU2_DEF", Args: []string{ConfigPlaceholder}},
			Primal:  SolverCommand{Command: "fsi_computation.py", Args: []string{"-f", ConfigPlaceholder}},
			Adjoint: SolverCommand{Command: "fsi_adjoint.py", Args: []string{"-f", ConfigPlaceholder}},
			Geo:     SolverCommand{Command: "SU2_GEO", Args: []string{ConfigPlaceholder}},
		},
		Store:  StoreSettings{Path: "fsiopt.db"},
		Remote: RemoteSettings{Port: 22, WorkDir: "fsiopt"},
		Logging: LogSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TraceSettings{
			Enabled:      false,
			Exporter:     "none",
			SamplingRate: 1.0,
		},
	}
}

// LoadSettings layers defaults, the YAML file at path (if any) and
// FSIOPT_* environment variables, in increasing precedence.
//
// Environment variables map to keys by splitting on the first
// underscore, with solver settings taking one more level:
//
//	FSIOPT_LOGGING_LEVEL          -> logging.level
//	FSIOPT_STORE_PATH             -> store.path
//	FSIOPT_REMOTE_WORK_DIR        -> remote.work_dir
//	FSIOPT_SOLVERS_PRIMAL_COMMAND -> solvers.primal.command
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load settings %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	s := DefaultSettings()
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	if parts[0] == "solvers" {
		if stage := strings.SplitN(parts[1], "_", 2); len(stage) == 2 {
			return "solvers." + stage[0] + "." + stage[1]
		}
	}
	return parts[0] + "." + parts[1]
}

// Command returns the solver command for the named stage.
func (s *SolverSettings) Command(stage string) (SolverCommand, error) {
	switch strings.ToLower(stage) {
	case "deform":
		return s.Deform, nil
	case "primal":
		return s.Primal, nil
	case "adjoint":
		return s.Adjoint, nil
	case "geo":
		return s.Geo, nil
	default:
		return SolverCommand{}, fmt.Errorf("unknown stage %q", stage)
	}
}

// ExpandArgs substitutes the staged config name into the argument list.
func (c SolverCommand) ExpandArgs(configName string) []string {
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = strings.ReplaceAll(a, ConfigPlaceholder, configName)
	}
	return out
}
