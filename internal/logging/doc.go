// Package logging constructs the process-wide slog logger and provides
// attribute helpers plus context-derived structured fields.
package logging
