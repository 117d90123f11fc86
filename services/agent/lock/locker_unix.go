// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build unix

package lock

import (
	"os"
	"syscall"
)

// unixFileLocker implements fileLocker using flock(2).
//
// Locks are process-scoped advisory locks, released automatically on
// file close or process exit. LOCK_NB keeps acquisition non-blocking.
type unixFileLocker struct{}

// Lock acquires an exclusive lock, returning ErrBusy when another
// process already holds one.
func (l *unixFileLocker) Lock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return ErrBusy
		}
		return err
	}
	return nil
}

// Unlock releases the lock. Safe to call even if not locked.
func (l *unixFileLocker) Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// isProcessAlive checks process existence with signal 0.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// newPlatformLocker returns the flock-based locker.
func newPlatformLocker() fileLocker {
	return &unixFileLocker{}
}
