//go:build !linux

package largepage

import "os"

const hugeFlag = 0

// Minimum returns the large page minimum for the platform. Without huge
// page support this is the regular page size.
func Minimum() int {
	return os.Getpagesize()
}
