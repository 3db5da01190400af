//go:build windows

package buffer

// DefaultCapacity is the number of matched records kept in memory. The
// Windows console renders large buffers slowly, so it keeps fewer.
const DefaultCapacity = 120
