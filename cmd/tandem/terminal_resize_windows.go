//go:build windows

package main

import "os"

// Windows consoles do not deliver SIGWINCH; attach keeps its initial size.
func registerTerminalResize(chan<- os.Signal) {}

func unregisterTerminalResize(chan<- os.Signal) {}
