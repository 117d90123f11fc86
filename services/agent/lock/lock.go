// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock provides the reconciliation cycle lock.
//
// # Description
//
// At most one reconciliation cycle may run per device. The lock is an
// advisory flock(2) on a well-known file, carrying a JSON payload (pid,
// device, acquire time, TTL) for visibility and staleness decisions.
// Acquisition is non-blocking: a busy lock means the caller skips the
// cycle, it never queues.
//
// Staleness policy: the kernel releases a flock when its holder dies,
// so a crashed cycle cannot wedge the device. The TTL in the payload
// covers the remaining case of an externally killed-and-frozen holder;
// a payload older than one scheduling period whose pid is gone is
// treated as abandoned and the lock file is reclaimed.
//
// # Thread Safety
//
// CycleLock is safe for concurrent use from multiple goroutines.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrBusy is returned when another process holds the cycle lock.
// Callers treat it as a benign skip, not a failure.
var ErrBusy = errors.New("cycle lock held by another process")

// ErrNotHeld is returned by Release when this process does not hold
// the lock.
var ErrNotHeld = errors.New("cycle lock not held")

// lockFileName is the flocked file inside the lock directory.
const lockFileName = "cycle.lock"

// Info is the JSON payload written into the lock file while held.
type Info struct {
	DeviceID   string    `json:"device_id"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock payload's TTL has passed.
func (i *Info) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// BusyError wraps ErrBusy with the holder's payload when readable.
type BusyError struct {
	Holder *Info
}

func (e *BusyError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cycle lock held by pid %d since %s",
			e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	return "cycle lock held by another process"
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// CycleLock is a scoped, non-blocking advisory lock.
//
// Acquire and Release pair around one reconciliation cycle; Release is
// safe on every exit path including failures inside the cycle.
type CycleLock struct {
	dir      string
	deviceID string
	ttl      time.Duration
	locker   fileLocker

	mu   sync.Mutex
	file *os.File
	path string
}

// New creates a cycle lock rooted in dir.
//
// ttl should equal one scheduling period; it only affects the
// staleness decision, never how long the lock is actually held.
func New(dir, deviceID string, ttl time.Duration) *CycleLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CycleLock{
		dir:      dir,
		deviceID: deviceID,
		ttl:      ttl,
		locker:   newPlatformLocker(),
		path:     filepath.Join(dir, lockFileName),
	}
}

// Acquire attempts to take the lock without blocking.
//
// Returns nil on success, a *BusyError wrapping ErrBusy when another
// live process holds it, and other errors on system failure. A stale
// lock file left by a dead process is reclaimed transparently.
func (l *CycleLock) Acquire(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil // already held by us
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", l.dir, err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", l.path, err)
	}

	if err := l.locker.Lock(f); err != nil {
		holder, _ := readInfo(f)
		f.Close()
		if errors.Is(err, ErrBusy) {
			if holder != nil && holder.IsExpired() && !isProcessAlive(holder.PID) {
				// Abandoned lock from a frozen holder; reclaim once.
				return l.reclaim(reason, holder)
			}
			return &BusyError{Holder: holder}
		}
		return fmt.Errorf("locking %s: %w", l.path, err)
	}

	info := &Info{
		DeviceID:   l.deviceID,
		PID:        os.Getpid(),
		Reason:     reason,
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(l.ttl),
	}
	if err := writeInfo(f, info); err != nil {
		l.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	l.file = f
	return nil
}

// reclaim removes a stale lock file and retries acquisition once.
// Called with mu held.
func (l *CycleLock) reclaim(reason string, stale *Info) error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale lock (pid %d): %w", stale.PID, err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("reopening lock file: %w", err)
	}
	if err := l.locker.Lock(f); err != nil {
		holder, _ := readInfo(f)
		f.Close()
		if errors.Is(err, ErrBusy) {
			return &BusyError{Holder: holder}
		}
		return fmt.Errorf("locking %s: %w", l.path, err)
	}

	info := &Info{
		DeviceID:   l.deviceID,
		PID:        os.Getpid(),
		Reason:     reason,
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(l.ttl),
	}
	if err := writeInfo(f, info); err != nil {
		l.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	l.file = f
	return nil
}

// Release drops the lock and removes the lock file.
//
// Safe to call when not held (returns ErrNotHeld) and safe to call
// more than once.
func (l *CycleLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrNotHeld
	}

	var errs []error
	if err := l.locker.Unlock(l.file); err != nil {
		errs = append(errs, fmt.Errorf("unlocking: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing lock file: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing lock file: %w", err))
	}
	l.file = nil

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Held reports whether this process currently holds the lock.
func (l *CycleLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Holder returns the current lock payload, or nil when the lock file
// does not exist. Useful for status reporting.
func (l *CycleLock) Holder() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock info: %w", err)
	}
	return &info, nil
}

// writeInfo truncates f and writes the JSON payload.
func writeInfo(f *os.File, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readInfo reads the JSON payload from an open lock file.
func readInfo(f *os.File) (*Info, error) {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil, err
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		return nil, err
	}
	var out Info
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
