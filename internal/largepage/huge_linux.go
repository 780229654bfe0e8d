package largepage

import "golang.org/x/sys/unix"

const hugeFlag = unix.MAP_HUGETLB

// Minimum returns the large page minimum for the platform.
func Minimum() int {
	return 2 << 20
}
