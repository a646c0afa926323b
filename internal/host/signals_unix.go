//go:build !windows

package host

import (
	"os"
	"syscall"
)

var (
	stopSignals  = []os.Signal{os.Interrupt, syscall.SIGTERM}
	pauseSignals = []os.Signal{syscall.SIGUSR1}
)
