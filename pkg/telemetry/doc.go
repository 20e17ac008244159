// Package telemetry provides observability for optimization runs.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry),
// Prometheus metrics and an event publisher:
//
//	tel, err := telemetry.NewTelemetry(telemetry.ConfigFromSettings(settings, version))
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Every optimizer query gets a span and a query_duration_seconds
// observation; every solver stage gets a child span, a stage_runs_total
// increment and stage.started / stage.completed / stage.failed events.
//
//	ic := tel.StartStage(ctx, rec.Index, "Primal")
//	err := runPrimal(ic.Ctx)
//	tel.EndStage(ic, rec.Index, "Primal", err)
//
// Metrics are registered on a private registry and exposed by
// Metrics.Handler:
//
//   - fsiopt_queries_total{query,status}
//   - fsiopt_query_duration_seconds{query}
//   - fsiopt_query_cache_hits_total{query}
//   - fsiopt_stage_runs_total{stage,status}
//   - fsiopt_stage_duration_seconds{stage}
//   - fsiopt_designs_created_total
//   - fsiopt_current_design
//   - fsiopt_errors_by_class_total{class}
//   - fsiopt_errors_by_code_total{code}
//
// Events can be persisted by subscribing the state store:
//
//	tel.Events.Subscribe(func(e telemetry.Event) { store.AppendEvent(ctx, e) }, nil)
package telemetry
