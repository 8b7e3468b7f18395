// Package logging assembles the structured slog loggers used across
// converto components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes typed attribute helpers so scheduler, dispatcher,
// and backend code tag log lines consistently (component, job ID, backend
// identifier). A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
