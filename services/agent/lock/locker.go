// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import "os"

// fileLocker abstracts the platform lock primitive so CycleLock stays
// testable and portable. Signage devices run Linux; the non-unix
// fallback exists only to keep cross-platform builds working.
type fileLocker interface {
	// Lock acquires an exclusive, non-blocking lock on the file,
	// returning ErrBusy when already held by another process.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call even if not locked.
	Unlock(f *os.File) error
}
