//go:build !unix

package largepage

import "errors"

func mapAnonymous(size int, large bool) ([]byte, error) {
	if large {
		return nil, errors.New("largepage: large pages unsupported")
	}
	return make([]byte, size), nil
}

func unmap([]byte) error { return nil }
