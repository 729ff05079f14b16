// Package telemetry provides the observability stack of isceproc.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// Prometheus metrics behind a single Telemetry value that commands create at
// startup and hand to the engine:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Component loggers carry a "component" field; run and step loggers add
// run_id and step:
//
//	logger := tel.Logger.NewComponentLogger("engine").WithRunID(runID)
//	logger.WithStep("run_01_unpack_topo_reference").Info("step started")
//
// # Metrics
//
// Processing runs are batch jobs that often finish before a scraper sees
// them. Besides the optional HTTP endpoint, metrics can be written to a
// node_exporter textfile when the command exits (metrics.textfile_path).
// A disabled Metrics value accepts every Record call and does nothing.
//
// # Tracing
//
// Each run gets a "run.execute" span with one "step.execute" child per step
// and "command.run" grandchildren for external programs. Exporters: none,
// stdout and otlp (gRPC).
package telemetry
