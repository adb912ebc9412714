// Package shutdown closes the process's long-lived resources in reverse
// registration order before exiting.
package shutdown

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ExitFunc is swapped out in tests to avoid killing the test process.
var ExitFunc = os.Exit

var (
	mu      sync.Mutex
	closers []func()
)

// Register adds a cleanup function to run on shutdown.
func Register(name string, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	closers = append(closers, func() {
		log.Info().Str("resource", name).Msg("Closing")
		fn()
	})
}

// Shutdown runs all registered cleanups and exits.
func Shutdown() {
	mu.Lock()
	fns := make([]func(), len(closers))
	copy(fns, closers)
	closers = nil
	mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	ExitFunc(0)
}

// ShutdownWithError logs the error and shuts down.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown()
}
