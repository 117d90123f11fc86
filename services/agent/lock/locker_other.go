// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build !unix

package lock

import "os"

// noopFileLocker keeps non-unix builds compiling. Deployed devices are
// Linux; there is no supported non-unix runtime.
type noopFileLocker struct{}

func (l *noopFileLocker) Lock(f *os.File) error   { return nil }
func (l *noopFileLocker) Unlock(f *os.File) error { return nil }

func isProcessAlive(pid int) bool { return false }

func newPlatformLocker() fileLocker {
	return &noopFileLocker{}
}
