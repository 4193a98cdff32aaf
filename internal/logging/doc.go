// Package logging provides the structured logging interface shared by the
// daemon components. It wraps zerolog so that components depend on a small
// Logger interface instead of a concrete backend.
package logging
