// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/doohlabs/signaged/services/agent/fetch"
	"github.com/doohlabs/signaged/services/agent/lock"
	"github.com/doohlabs/signaged/services/agent/swap"
	"github.com/doohlabs/signaged/services/agent/update"
)

// Exit codes, stable for scripting and the maintenance timer.
const (
	exitOK         = 0
	exitFailure    = 1
	exitNetwork    = 2
	exitNoPlaylist = 3
	exitDirtyTree  = 4
	exitSwap       = 5
	exitLockBusy   = 6
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps well-known failures to their exit codes so shell
// callers can tell a flaky network from broken content.
func exitCodeFor(err error) int {
	var swapErr *swap.SwapError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lock.ErrBusy):
		return exitLockBusy
	case errors.Is(err, fetch.ErrNetwork):
		return exitNetwork
	case errors.Is(err, fetch.ErrNoPlaylist):
		return exitNoPlaylist
	case errors.Is(err, update.ErrDirtyTree):
		return exitDirtyTree
	case errors.As(err, &swapErr):
		return exitSwap
	default:
		return exitFailure
	}
}
