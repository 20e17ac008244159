// Package design holds the design-point history of an optimization run.
//
// A design is one value of the design-variable vector. Every distinct
// vector the optimizer submits gets a Record with a zero-based index, a
// staging directory DESIGNS/DSN_<index> and completion flags for the
// stages run against it. History is append-only and the last record is
// always the current one.
//
// Two vectors are the same design when their Euclidean distance does not
// exceed the configured tolerance:
//
//	h := design.NewHistory("/case/DESIGNS", 1e-20)
//	if h.ShouldStartNew(x) {
//		rec := h.Append(x)
//		// stage rec.Dir ...
//	}
package design
