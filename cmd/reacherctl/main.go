// Package main implements reacherctl, the bench CLI for driving an
// operant-behavior rig session from a terminal: list serial ports, run a
// session against a config file, and arm or disarm individual devices.
package main

import (
	"fmt"
	"os"
)

const (
	// Version is the build version, overridable at link time.
	Version = "0.1.0"
	appName = "reacherctl"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
