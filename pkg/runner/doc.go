// Package runner stages working directories and runs external solvers in
// them.
//
// Staging is done with typed filesystem operations. A stage directory is
// created exclusively, so a stage can never be staged twice into the same
// directory:
//
//	st, err := runner.NewStageDir(filepath.Join(designDir, "Primal"))
//	st.Copy("/case/flow.cfg")
//	st.Link("/case/mesh.su2", "mesh.su2")
//
// Solvers are described by an Invocation and run by a Runner. The exec
// runner tees solver output to <dir>/<name>.log and reports a non-zero
// exit status as an *ExitError.
package runner
