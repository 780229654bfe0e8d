//go:build unix

package largepage

import "golang.org/x/sys/unix"

func mapAnonymous(size int, large bool) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if large {
		if hugeFlag == 0 {
			return nil, unix.EINVAL
		}
		flags |= hugeFlag
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
