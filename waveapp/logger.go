package waveapp

import "log"

// Logger is the seam waveapp uses for diagnostics it cannot surface as an
// error return, such as a panicking watcher callback. Hosts embedding this
// core may substitute their own structured logger.
type Logger interface {
	Errorf(format string, args ...any)
}

// DefaultLogger writes to the standard library's log package, matching
// goatee's own use of bare log.Printf throughout server/hub.
type DefaultLogger struct{}

// Errorf implements Logger.
func (DefaultLogger) Errorf(format string, args ...any) {
	log.Printf(format, args...)
}
