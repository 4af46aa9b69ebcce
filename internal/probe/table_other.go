// table_other.go — non-Linux stub for the probe package.
//
// On non-Linux platforms every exported symbol is available but NewTable
// always returns ErrUnsupported. This allows callers to import the package
// unconditionally and branch on errors rather than using build tags.
//
//go:build !linux

package probe

import "errors"

// ErrUnsupported is returned on non-Linux platforms, where there is no
// BPF_MAP_TYPE_ARRAY to back the meta-op table.
var ErrUnsupported = errors.New("probe: meta-op tables are only supported on Linux")

// NewTable always returns ErrUnsupported on non-Linux platforms.
func NewTable() (*Table, error) {
	return nil, ErrUnsupported
}
