//go:build !linux

package btf

import "fmt"

func unameRelease() (string, error) {
	return "", fmt.Errorf("btf: kernel release lookup requires linux")
}
