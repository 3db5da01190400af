package history

import (
	"context"
	"fmt"
	"time"
)

// LockTimeout bounds how long Update waits for another process.
const LockTimeout = 5 * time.Second

// Update applies fn to the history stored at path and saves the result, all
// under an exclusive file lock so that concurrent kseek processes do not
// overwrite each other's queries. It returns the saved history.
func Update(ctx context.Context, path string, maxEntries int, fn func(*History) error) (*History, error) {
	lock := newFileLock(path + ".lock")
	if err := lock.lock(ctx, LockTimeout); err != nil {
		return nil, fmt.Errorf("failed to lock history: %w", err)
	}
	defer func() { _ = lock.unlock() }()

	h, err := Load(path, maxEntries)
	if err != nil {
		return nil, err
	}
	if err := fn(h); err != nil {
		return nil, err
	}
	if err := h.Save(path); err != nil {
		return nil, err
	}
	return h, nil
}
