// Package shutdown funnels termination signals into a channel so the
// engine can ungrab devices before exiting.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
