// Package logx is alarmd's structured logging: a value-type Logger over
// zerolog with short file:line callers. The daemon logs through a Service
// whose console and JSON file sinks are rebuilt on config reload; the CLI and
// tests build standalone loggers with NewConsole and NewWriter.
package logx
