//go:build !windows

package buffer

// DefaultCapacity is the number of matched records kept in memory.
const DefaultCapacity = 500
