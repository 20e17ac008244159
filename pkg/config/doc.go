// Package config loads the settings fsiopt needs to drive an optimization run.
//
// Two kinds of files are involved:
//
//   - Solver configuration files in the SU2 key=value format (one
//     assignment per line, comment lines starting with '%'). The root
//     optimization config and the primal, adjoint, deformation and
//     geometry configs all use this format and are exposed through File
//     and Root.
//   - The fsiopt tool settings (solver commands, state store, telemetry),
//     a YAML file layered with FSIOPT_* environment variables and exposed
//     through Settings.
//
// Files are read once. Missing required keys are reported with the
// offending file and key name through MissingKeyError.
package config
