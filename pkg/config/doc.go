// Package config loads the isceproc application configuration.
//
// The configuration is a YAML file (isceproc.yaml in the processing
// directory by default, or the file named by --config or $ISCEPROC_CONFIG)
// with the sections:
//
//	logging:   level, format and destination of log output
//	tracing:   OpenTelemetry exporter settings
//	metrics:   Prometheus endpoint and textfile export
//	store:     location of the run history database
//	executor:  default run-file executor and retry policy
//	ssh:       remote processing host for the ssh executor
//
// Omitted fields keep their defaults. Values are checked with struct tags
// through go-playground/validator, plus rules that span sections such as
// the ssh executor requiring an ssh section.
//
// Processing parameters (looks, DEM source, dates, ...) are not part of this
// configuration; they are read from the template file of each project.
package config
