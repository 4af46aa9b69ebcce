// Raw-syscall BPF_MAP_TYPE_ARRAY backing for the probe meta-op table.
//
// This mirrors internal/watcher/ebpf/loader_linux.go's technique almost
// verbatim (raw bpf(2) syscalls, unsafe attr structs, no external eBPF
// library) but creates a different kind of map for a different purpose:
// instead of a ring buffer that receives execve events, this is a
// fixed-size array that the in-kernel filter interpreter reads MetaOps from.
//
//go:build linux

package probe

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/skbtrace/skbtrace/internal/filter"
)

const (
	bpfCmdMapCreate     uintptr = 0
	bpfCmdMapUpdateElem uintptr = 2

	bpfMapTypeArray uint32 = 2
)

// bpfMapCreateAttr is the bpf(BPF_MAP_CREATE, …) attribute, matching the
// map-create union member of struct bpf_attr.
type bpfMapCreateAttr struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
	_          [76]byte // padding, matching loader_linux.go's bpfMapCreateAttr
}

// bpfMapElemAttr is the bpf(BPF_MAP_UPDATE_ELEM, …) attribute, matching the
// map-elem union member of struct bpf_attr (map_fd, key, value/next_key,
// flags).
type bpfMapElemAttr struct {
	mapFD uint32
	_     uint32
	key   uint64
	value uint64
	flags uint64
}

// bpfSyscallNR is the bpf(2) system call number per architecture; the
// standard syscall package does not export SYS_BPF.
var bpfSyscallNR = map[string]uintptr{
	"386": 357, "amd64": 321, "arm": 386, "arm64": 280, "loong64": 280,
	"ppc64": 361, "ppc64le": 361, "riscv64": 280, "s390x": 351,
}

func bpfSyscall(cmd uintptr, attr unsafe.Pointer, attrSize uintptr) (int, error) {
	nr, ok := bpfSyscallNR[runtime.GOARCH]
	if !ok {
		return -1, syscall.ENOSYS
	}
	fd, _, errno := syscall.RawSyscall(nr, cmd, uintptr(attr), attrSize)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// bpfArrayTable is the Linux tableImpl: one BPF_MAP_TYPE_ARRAY map holding
// up to filter.MaxOps values of filter.OpSize bytes each.
type bpfArrayTable struct {
	fd int
}

// NewTable creates a fresh meta-op table (BPF_MAP_TYPE_ARRAY, filter.MaxOps
// entries of filter.OpSize bytes, keyed by u32). Table creation failure is
// fatal for the session: there is no partial-table fallback.
//
// Requires CAP_BPF (Linux ≥ 5.8) or CAP_SYS_ADMIN on older kernels.
func NewTable() (*Table, error) {
	impl := &bpfArrayTable{}
	if err := impl.create(); err != nil {
		return nil, fmt.Errorf("probe: creating meta-op table: %w (requires CAP_BPF)", err)
	}
	return &Table{state: TableCreated, impl: impl}, nil
}

func (b *bpfArrayTable) create() error {
	attr := bpfMapCreateAttr{
		mapType:    bpfMapTypeArray,
		keySize:    4,
		valueSize:  filter.OpSize,
		maxEntries: filter.MaxOps,
	}
	fd, err := bpfSyscall(bpfCmdMapCreate, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return err
	}
	b.fd = fd
	return nil
}

func (b *bpfArrayTable) update(index uint32, value []byte) error {
	if len(value) != filter.OpSize {
		return fmt.Errorf("value is %d bytes, want %d", len(value), filter.OpSize)
	}
	key := index
	attr := bpfMapElemAttr{
		mapFD: uint32(b.fd),
		key:   uint64(uintptr(unsafe.Pointer(&key))),
		value: uint64(uintptr(unsafe.Pointer(&value[0]))),
	}
	_, err := bpfSyscall(bpfCmdMapUpdateElem, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	// KeepAlive prevents the GC from collecting key/value whose addresses were
	// stored as uint64 in attr (not tracked as GC roots), matching
	// loader_linux.go's use of runtime.KeepAlive around BPF_PROG_LOAD.
	runtime.KeepAlive(key)
	runtime.KeepAlive(value)
	return err
}

func (b *bpfArrayTable) close() error {
	return syscall.Close(b.fd)
}
