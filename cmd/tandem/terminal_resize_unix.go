//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// registerTerminalResize forwards window size changes of the local tty.
func registerTerminalResize(sigCh chan<- os.Signal) {
	if sigCh == nil {
		return
	}
	signal.Notify(sigCh, syscall.SIGWINCH)
}

func unregisterTerminalResize(sigCh chan<- os.Signal) {
	if sigCh == nil {
		return
	}
	signal.Stop(sigCh)
}
