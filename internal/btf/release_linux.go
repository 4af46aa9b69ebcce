//go:build linux

package btf

import (
	"bytes"
	"syscall"
)

// unameRelease reads the running kernel's release string via uname(2).
func unameRelease() (string, error) {
	var uts syscall.Utsname
	if err := syscall.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Release[:]), nil
}

func charsToString(b []int8) string {
	buf := make([]byte, len(b))
	for i, c := range b {
		buf[i] = byte(c)
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}
