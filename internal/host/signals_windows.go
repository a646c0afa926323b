//go:build windows

package host

import "os"

// Windows has no user signals; pausing needs another control source.
var (
	stopSignals  = []os.Signal{os.Interrupt}
	pauseSignals []os.Signal
)
