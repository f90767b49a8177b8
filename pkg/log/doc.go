// Package log records machine-readable commissioning traces.
//
// A trace captures every state transition, dropped event, timer action and
// command exchange of a commissioning run. It is separate from operational
// logging (slog): the trace is meant for post-mortem analysis and can be
// replayed with the commission-log tool.
//
// # Basic Usage
//
//	// Console output via slog
//	config.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary trace file
//	trace, _ := log.NewFileLogger("/var/log/commissioner/run.clog")
//	defer trace.Close()
//
//	// Both
//	config.ProtocolLogger = log.Tee(log.NewSlogAdapter(slog.Default()), trace)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded Event values with the .clog
// extension.
package log
