//go:build windows

package main

import (
	"os"
)

// terminationSignals lists the signals that trigger a graceful shutdown of `serve`.
var terminationSignals = []os.Signal{os.Interrupt}
