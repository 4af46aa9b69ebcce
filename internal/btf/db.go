package btf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
)

// ErrNotFound is returned when a lookup by name matches nothing in the
// database.
var ErrNotFound = errors.New("btf: type not found")

const btfMagic = 0xeB9F

// kernel BTF_KIND_* constants, per Documentation/bpf/btf.rst.
const (
	kindUnknown = iota
	kindInt
	kindPointer
	kindArray
	kindStruct
	kindUnion
	kindEnum
	kindFwd
	kindTypedef
	kindVolatile
	kindConst
	kindRestrict
	kindFunc
	kindFuncProto
	kindVar
	kindDatasec
	kindFloat
	kindDeclTag
	kindTypeTag
	kindEnum64
)

type btfHeader struct {
	Magic   uint16
	Version uint8
	Flags   uint8
	HdrLen  uint32

	TypeOff   uint32
	TypeLen   uint32
	StringOff uint32
	StringLen uint32
}

// rawType is one decoded btf_type record plus its kind-specific trailing
// data, with every embedded reference kept as a raw numeric type ID for a
// second pass to resolve once every node has been allocated.
type rawType struct {
	id       uint32
	name     string
	kind     int
	vlen     int
	kindFlag bool

	sizeOrType uint32 // btf_type.size/type union field

	// BTF_KIND_INT
	intEncoding uint32
	intOffset   uint32
	intBits     uint32

	// BTF_KIND_ARRAY
	arrElemType  uint32
	arrIndexType uint32
	arrNelems    uint32

	// BTF_KIND_STRUCT / BTF_KIND_UNION
	members []rawMember

	// BTF_KIND_ENUM
	enumSigned bool

	// BTF_KIND_ENUM64
	enum64Signed bool
}

type rawMember struct {
	name      string
	typeID    uint32
	bitOffset uint32
	bfSize    uint32
}

// DB is a parsed, read-only kernel type database. It is safe for concurrent
// use: lookups only read already-built maps and slices.
type DB struct {
	byID   map[uint32]Type
	byName map[string][]Type
}

var (
	kernelOnce sync.Once
	kernelDB   *DB
	kernelErr  error
)

// LoadKernel loads and caches the running kernel's BTF for the lifetime of
// the process. Concurrent callers share the same parse.
func LoadKernel() (*DB, error) {
	kernelOnce.Do(func() {
		kernelDB, kernelErr = loadKernelSpec()
	})
	return kernelDB, kernelErr
}

func loadKernelSpec() (*DB, error) {
	if f, err := os.Open("/sys/kernel/btf/vmlinux"); err == nil {
		defer f.Close()
		return loadRawBTF(f)
	}

	path, err := findVMLinux()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("btf: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadSpecFromReader(f)
}

// findVMLinux returns the first well-known location where a vmlinux image
// for the running release exists, the fallback used when the running kernel
// does not expose /sys/kernel/btf/vmlinux (CONFIG_DEBUG_INFO_BTF=n). It only
// checks that the file exists; a missing .BTF section is reported later by
// LoadSpecFromReader.
func findVMLinux() (string, error) {
	release, err := kernelRelease()
	if err != nil {
		return "", err
	}

	candidates := []string{
		fmt.Sprintf("/boot/vmlinux-%s", release),
		fmt.Sprintf("/lib/modules/%s/vmlinux-%s", release, release),
		fmt.Sprintf("/lib/modules/%s/build/vmlinux", release),
		fmt.Sprintf("/usr/lib/modules/%s/kernel/vmlinux", release),
		fmt.Sprintf("/usr/lib/debug/boot/vmlinux-%s", release),
		fmt.Sprintf("/usr/lib/debug/boot/vmlinux-%s.debug", release),
		fmt.Sprintf("/usr/lib/debug/lib/modules/%s/vmlinux", release),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("btf: no vmlinux image found for release %q", release)
}

func kernelRelease() (string, error) {
	release, err := unameRelease()
	if err != nil {
		return "", fmt.Errorf("btf: can't determine kernel release: %w (os=%s)", err, runtime.GOOS)
	}
	return release, nil
}

// LoadSpecFromReader loads BTF from an ELF image's .BTF section.
func LoadSpecFromReader(r io.ReaderAt) (*DB, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("btf: not an ELF file: %w", err)
	}
	defer f.Close()
	return loadSpecFromELF(f)
}

func loadSpecFromELF(f *elf.File) (*DB, error) {
	sec := f.Section(".BTF")
	if sec == nil {
		return nil, fmt.Errorf("btf: %w: no .BTF section", ErrNotFound)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("btf: reading .BTF section: %w", err)
	}
	return loadRawBTF(bytes.NewReader(data))
}

func loadRawBTF(r io.Reader) (*DB, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("btf: %w", err)
	}

	if len(data) < 24 {
		return nil, fmt.Errorf("btf: truncated header")
	}

	bo, err := guessByteOrder(data)
	if err != nil {
		return nil, err
	}

	var hdr btfHeader
	if err := binary.Read(bytes.NewReader(data[:24]), bo, &hdr); err != nil {
		return nil, fmt.Errorf("btf: parsing header: %w", err)
	}
	if hdr.Magic != btfMagic {
		return nil, fmt.Errorf("btf: bad magic %#x", hdr.Magic)
	}

	typeStart := int64(hdr.HdrLen + hdr.TypeOff)
	typeEnd := typeStart + int64(hdr.TypeLen)
	strStart := int64(hdr.HdrLen + hdr.StringOff)
	strEnd := strStart + int64(hdr.StringLen)

	if int(typeEnd) > len(data) || int(strEnd) > len(data) {
		return nil, fmt.Errorf("btf: section bounds exceed data length")
	}

	strs := data[strStart:strEnd]
	raws, err := parseRawTypes(data[typeStart:typeEnd], bo, strs)
	if err != nil {
		return nil, err
	}

	return inflate(raws), nil
}

func guessByteOrder(data []byte) (binary.ByteOrder, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("btf: truncated header")
	}
	switch {
	case data[0] == 0xeB && data[1] == 0x9f:
		return binary.BigEndian, nil
	case data[0] == 0x9F && data[1] == 0xEB:
		return binary.LittleEndian, nil
	default:
		return binary.LittleEndian, nil
	}
}

func cstring(strs []byte, off uint32) string {
	if int(off) >= len(strs) {
		return ""
	}
	end := off
	for end < uint32(len(strs)) && strs[end] != 0 {
		end++
	}
	return string(strs[off:end])
}

func parseRawTypes(data []byte, bo binary.ByteOrder, strs []byte) ([]rawType, error) {
	var raws []rawType
	r := bytes.NewReader(data)
	id := uint32(1) // ID 0 is implicit "void"

	for r.Len() > 0 {
		var fixed struct {
			NameOff uint32
			Info    uint32
			SizeOrT uint32
		}
		if err := binary.Read(r, bo, &fixed); err != nil {
			return nil, fmt.Errorf("btf: reading type #%d: %w", id, err)
		}

		kind := int((fixed.Info >> 24) & 0x1f)
		vlen := int(fixed.Info & 0xffff)
		kindFlag := (fixed.Info>>31)&0x1 == 1

		rt := rawType{
			id:         id,
			name:       cstring(strs, fixed.NameOff),
			kind:       kind,
			vlen:       vlen,
			kindFlag:   kindFlag,
			sizeOrType: fixed.SizeOrT,
		}

		switch kind {
		case kindInt:
			var v uint32
			if err := binary.Read(r, bo, &v); err != nil {
				return nil, err
			}
			rt.intEncoding = (v >> 24) & 0xf
			rt.intOffset = (v >> 16) & 0xff
			rt.intBits = v & 0xff

		case kindArray:
			var arr struct{ Type, IndexType, Nelems uint32 }
			if err := binary.Read(r, bo, &arr); err != nil {
				return nil, err
			}
			rt.arrElemType, rt.arrIndexType, rt.arrNelems = arr.Type, arr.IndexType, arr.Nelems

		case kindStruct, kindUnion:
			for i := 0; i < vlen; i++ {
				var m struct{ NameOff, Type, Offset uint32 }
				if err := binary.Read(r, bo, &m); err != nil {
					return nil, err
				}
				rm := rawMember{name: cstring(strs, m.NameOff), typeID: m.Type}
				if kindFlag {
					rm.bitOffset = m.Offset & 0xffffff
					rm.bfSize = m.Offset >> 24
				} else {
					rm.bitOffset = m.Offset
				}
				rt.members = append(rt.members, rm)
			}

		case kindEnum:
			rt.enumSigned = rt.kindFlag
			for i := 0; i < vlen; i++ {
				var e struct {
					NameOff uint32
					Val     int32
				}
				if err := binary.Read(r, bo, &e); err != nil {
					return nil, err
				}
			}

		case kindEnum64:
			rt.enum64Signed = rt.kindFlag
			for i := 0; i < vlen; i++ {
				var e struct{ NameOff, ValLo, ValHi uint32 }
				if err := binary.Read(r, bo, &e); err != nil {
					return nil, err
				}
			}

		case kindFwd:
			// no trailing data

		case kindTypedef, kindVolatile, kindConst, kindRestrict, kindTypeTag:
			// sizeOrType already holds the target type ID

		case kindFunc:
			// no trailing data beyond vlen (linkage, encoded in vlen)

		case kindFuncProto:
			for i := 0; i < vlen; i++ {
				var p struct{ NameOff, Type uint32 }
				if err := binary.Read(r, bo, &p); err != nil {
					return nil, err
				}
			}

		case kindVar:
			var linkage uint32
			if err := binary.Read(r, bo, &linkage); err != nil {
				return nil, err
			}

		case kindDatasec:
			for i := 0; i < vlen; i++ {
				var s struct{ Type, Offset, Size uint32 }
				if err := binary.Read(r, bo, &s); err != nil {
					return nil, err
				}
			}

		case kindFloat:
			// no trailing data

		case kindDeclTag:
			var componentIdx uint32
			if err := binary.Read(r, bo, &componentIdx); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("btf: type #%d: unsupported kind %d", id, kind)
		}

		raws = append(raws, rt)
		id++
	}

	return raws, nil
}

// inflate turns the flat raw-type list into the linked Type graph, resolving
// every type-ID reference in a second pass now that every node has a home.
func inflate(raws []rawType) *DB {
	nodes := make(map[uint32]Type, len(raws))
	byRaw := make(map[uint32]*rawType, len(raws))

	for i := range raws {
		rt := &raws[i]
		byRaw[rt.id] = rt
		switch rt.kind {
		case kindInt:
			nodes[rt.id] = &Int{Name: rt.name, SizeBits: rt.intBits, Signed: rt.intEncoding&0x1 != 0, IsBool: rt.intEncoding&0x4 != 0}
		case kindPointer:
			nodes[rt.id] = &Pointer{}
		case kindArray:
			nodes[rt.id] = &Array{Nelem: rt.arrNelems}
		case kindStruct:
			nodes[rt.id] = &Struct{Name: rt.name, SizeBits: rt.sizeOrType * 8}
		case kindUnion:
			nodes[rt.id] = &Union{Name: rt.name, SizeBits: rt.sizeOrType * 8}
		case kindEnum:
			nodes[rt.id] = &Enum{Name: rt.name, Signed: rt.enumSigned}
		case kindEnum64:
			nodes[rt.id] = &Enum64{Name: rt.name, Signed: rt.enum64Signed}
		case kindTypedef:
			nodes[rt.id] = &Typedef{Name: rt.name}
		case kindConst:
			nodes[rt.id] = &Const{}
		case kindVolatile:
			nodes[rt.id] = &Volatile{}
		case kindRestrict:
			nodes[rt.id] = &Restrict{}
		case kindDeclTag:
			nodes[rt.id] = &DeclTag{}
		case kindTypeTag:
			nodes[rt.id] = &TypeTag{}
		default:
			// FWD, FUNC, FUNC_PROTO, VAR, DATASEC, FLOAT: opaque to the
			// filter compiler's field-chain walk, never a resolvable LHS
			// root or member target, so we don't need a Type node for them.
		}
	}

	resolve := func(id uint32) Type {
		if id == 0 {
			return nil
		}
		return nodes[id]
	}

	for i := range raws {
		rt := &raws[i]
		switch n := nodes[rt.id].(type) {
		case *Pointer:
			n.Target = resolve(rt.sizeOrType)
		case *Array:
			n.Elem = resolve(rt.arrElemType)
		case *Struct:
			n.Members = inflateMembers(rt.members, resolve)
		case *Union:
			n.Members = inflateMembers(rt.members, resolve)
		case *Typedef:
			n.Target = resolve(rt.sizeOrType)
		case *Const:
			n.Target = resolve(rt.sizeOrType)
		case *Volatile:
			n.Target = resolve(rt.sizeOrType)
		case *Restrict:
			n.Target = resolve(rt.sizeOrType)
		case *DeclTag:
			n.Target = resolve(rt.sizeOrType)
		case *TypeTag:
			n.Target = resolve(rt.sizeOrType)
		}
	}

	byName := make(map[string][]Type)
	for _, t := range nodes {
		name := t.TypeName()
		if name == "" {
			continue
		}
		byName[name] = append(byName[name], t)
	}

	return &DB{byID: nodes, byName: byName}
}

func inflateMembers(raw []rawMember, resolve func(uint32) Type) []Member {
	members := make([]Member, len(raw))
	for i, rm := range raw {
		members[i] = Member{
			Name:         rm.name,
			BitOffset:    rm.bitOffset,
			BitfieldSize: rm.bfSize,
			Type:         resolve(rm.typeID),
		}
	}
	return members
}

// NewDB builds a DB directly from an in-memory set of named root types,
// without parsing any ELF or raw BTF bytes. It exists for callers that
// already have a type graph to hand: most commonly tests, which build a
// small fixture mirroring the handful of kernel types a filter expression
// actually touches instead of requiring a live kernel's BTF.
func NewDB(types ...Type) *DB {
	byName := make(map[string][]Type)
	for _, t := range types {
		if name := t.TypeName(); name != "" {
			byName[name] = append(byName[name], t)
		}
	}
	return &DB{byName: byName}
}

// ResolveByName returns every type sharing name. Callers walking a filter
// LHS root pick the first Struct among the results.
func (db *DB) ResolveByName(name string) ([]Type, error) {
	ts, ok := db.byName[name]
	if !ok {
		return nil, fmt.Errorf("btf: %q: %w", name, ErrNotFound)
	}
	return ts, nil
}

// Members returns the member list of a Struct or Union, resolving through
// any wrapping qualifiers/typedefs first (the iterate-chain capability).
func (db *DB) Members(t Type) ([]Member, error) {
	t = skip(t)
	switch v := t.(type) {
	case *Struct:
		return v.Members, nil
	case *Union:
		return v.Members, nil
	default:
		return nil, fmt.Errorf("btf: %s is not a struct or union", describe(t))
	}
}

// Chain follows t through every transparent wrapper and returns the first
// structurally meaningful type underneath (the iterate-chain capability).
func (db *DB) Chain(t Type) Type {
	return skip(t)
}

func describe(t Type) string {
	if t == nil {
		return "void"
	}
	if t.TypeName() != "" {
		return fmt.Sprintf("%s %q", t.Kind(), t.TypeName())
	}
	return t.Kind().String()
}
