// Package logging configures Seekly's structured logging.
//
// Logs are JSON lines written to a size-rotated file under ~/.seekly/logs/
// and, optionally, mirrored to stderr. The same package reads those files
// back for `seekly logs`.
package logging
